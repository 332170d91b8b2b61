// Package ollama exposes a local Ollama server through its
// OpenAI-compatible endpoint. Usage is reported but costs nothing.
package ollama

import (
	"github.com/lyzr/graphflow/llm"
	"github.com/lyzr/graphflow/llm/providers/openai"
)

const defaultBase = "http://localhost:11434/v1"

func init() {
	llm.RegisterProvider("ollama", New)
}

// New builds the Ollama provider. api_base defaults to the local server;
// the API key is a placeholder the server ignores.
func New(settings llm.Settings) (llm.Provider, error) {
	base := settings.APIBase
	if base == "" {
		base = defaultBase
	}
	key := settings.APIKey
	if key == "" {
		key = "ollama"
	}
	return openai.NewCompatible("ollama", key, base), nil
}
