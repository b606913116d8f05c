package provider

import "net/http"

// NewClients はカタログの全プロバイダ分のクライアントを生成する。
func NewClients(httpClient *http.Client) map[string]Completer {
	return map[string]Completer{
		"claude":   NewAnthropicClient(httpClient, ""),
		"openai":   NewOpenAIClient("openai", httpClient, ""),
		"gemini":   NewGeminiClient(httpClient, ""),
		"deepseek": NewOpenAIClient("deepseek", httpClient, DeepSeekBaseURL),
	}
}
