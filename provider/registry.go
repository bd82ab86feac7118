package provider

import (
	"sort"
	"strings"
)

// DefaultID провайдер по умолчанию
const DefaultID = "openai"

var factories = map[string]func() Adapter{
	"openai":     func() Adapter { return NewOpenAI() },
	"deepgram":   func() Adapter { return NewDeepgram() },
	"elevenlabs": func() Adapter { return NewElevenLabs() },
	"assemblyai": func() Adapter { return NewAssemblyAI() },
}

// New создаёт адаптер по идентификатору; неизвестный id - OpenAI
func New(id string) Adapter {
	if f, ok := factories[strings.ToLower(strings.TrimSpace(id))]; ok {
		return f()
	}
	return NewOpenAI()
}

// Known true если id зарегистрирован
func Known(id string) bool {
	_, ok := factories[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// IDs список зарегистрированных провайдеров
func IDs() []string {
	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// APIKeyEnv имя переменной окружения с ключом провайдера
func APIKeyEnv(id string) string {
	return strings.ToUpper(New(id).ID()) + "_API_KEY"
}
