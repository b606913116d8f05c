// Package provider はリライトに使用するLLMプロバイダのカタログ、
// 有効なプロバイダの選択、および各プロバイダのAPIクライアントを提供する。
package provider

import (
	"sort"

	"github.com/hitoshi/chronique/internal/model"
)

// FallbackProviderKey はプロバイダが選択されていない場合に使用するキー。
const FallbackProviderKey = "claude"

// catalogOrder はカタログの表示順。
var catalogOrder = []string{"claude", "openai", "gemini", "deepseek"}

// catalog は組み込みのプロバイダ定義。
var catalog = map[string]model.ProviderConfig{
	"claude": {
		Key:         "claude",
		DisplayName: "Claude (Anthropic)",
		Models: map[string]string{
			"claude-sonnet-4-6":         "Claude Sonnet 4.6 (recommandé)",
			"claude-opus-4-6":           "Claude Opus 4.6 (le plus puissant)",
			"claude-haiku-4-5-20251001": "Claude Haiku 4.5 (le plus rapide)",
		},
		DefaultModel:     "claude-sonnet-4-6",
		CredentialEnvKey: "ANTHROPIC_API_KEY",
	},
	"openai": {
		Key:         "openai",
		DisplayName: "OpenAI (ChatGPT)",
		Models: map[string]string{
			"gpt-4o":      "GPT-4o (recommandé)",
			"gpt-4o-mini": "GPT-4o Mini (rapide)",
			"gpt-4-turbo": "GPT-4 Turbo",
		},
		DefaultModel:     "gpt-4o",
		CredentialEnvKey: "OPENAI_API_KEY",
	},
	"gemini": {
		Key:         "gemini",
		DisplayName: "Gemini (Google)",
		Models: map[string]string{
			"gemini-2.0-flash": "Gemini 2.0 Flash (recommandé)",
			"gemini-1.5-pro":   "Gemini 1.5 Pro",
			"gemini-1.5-flash": "Gemini 1.5 Flash (rapide)",
		},
		DefaultModel:     "gemini-2.0-flash",
		CredentialEnvKey: "GEMINI_API_KEY",
	},
	"deepseek": {
		Key:         "deepseek",
		DisplayName: "DeepSeek",
		Models: map[string]string{
			"deepseek-chat":     "DeepSeek Chat V3 (recommandé)",
			"deepseek-reasoner": "DeepSeek Reasoner R1",
		},
		DefaultModel:     "deepseek-chat",
		CredentialEnvKey: "DEEPSEEK_API_KEY",
	},
}

// Lookup はキーに対応するプロバイダ定義を返す。
func Lookup(key string) (model.ProviderConfig, bool) {
	cfg, ok := catalog[key]
	return cfg, ok
}

// Keys はカタログの表示順でプロバイダキーを返す。
func Keys() []string {
	out := make([]string, len(catalogOrder))
	copy(out, catalogOrder)
	return out
}

// SortedKeys はアルファベット順のプロバイダキーを返す。エラーメッセージ用。
func SortedKeys() []string {
	out := Keys()
	sort.Strings(out)
	return out
}

// modelKeys はデフォルトモデルを先頭に、残りをアルファベット順で返す。
func modelKeys(cfg model.ProviderConfig) []string {
	keys := make([]string, 0, len(cfg.Models))
	for k := range cfg.Models {
		if k != cfg.DefaultModel {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := cfg.Models[cfg.DefaultModel]; ok {
		keys = append([]string{cfg.DefaultModel}, keys...)
	}
	return keys
}
