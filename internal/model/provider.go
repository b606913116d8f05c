package model

// ProviderConfig はリライトに使用するLLMプロバイダの静的な定義を表す。
type ProviderConfig struct {
	Key              string
	DisplayName      string
	Models           map[string]string // モデルキー → 表示ラベル
	DefaultModel     string
	CredentialEnvKey string // 必要なAPIキーの環境変数名
}

// ActiveSelection は現在有効なプロバイダとモデルの選択を表す。
// ModelKeyが空の場合はプロバイダのデフォルトモデルを使用する。
type ActiveSelection struct {
	ProviderKey string
	ModelKey    string
}
