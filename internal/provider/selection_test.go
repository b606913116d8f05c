package provider

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joho/godotenv"

	"github.com/hitoshi/chronique/internal/model"
)

func TestEnvFileStore_Persist_PreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DATABASE_URL=postgres://x\nLLM_PROVIDER=claude\nLLM_MODEL=claude-opus-4-6\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewEnvFileStore(path)
	if err := s.Persist(model.ActiveSelection{ProviderKey: "openai", ModelKey: "gpt-4o-mini"}); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	values, err := godotenv.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if values["DATABASE_URL"] != "postgres://x" {
		t.Errorf("他のキーは保持されるべき: %v", values)
	}
	if values[EnvProvider] != "openai" || values[EnvModel] != "gpt-4o-mini" {
		t.Errorf("values = %v", values)
	}
}

func TestEnvFileStore_Persist_RemovesModelWhenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("LLM_PROVIDER=claude\nLLM_MODEL=claude-opus-4-6\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := NewEnvFileStore(path).Persist(model.ActiveSelection{ProviderKey: "gemini"}); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), EnvModel) {
		t.Errorf("モデル未指定の場合はLLM_MODELが削除されるべき: %s", raw)
	}
}

func TestEnvFileStore_Persist_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")

	if err := NewEnvFileStore(path).Persist(model.ActiveSelection{ProviderKey: "deepseek"}); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	values, err := godotenv.Read(path)
	if err != nil {
		t.Fatalf("ファイルが作成されるべき: %v", err)
	}
	if values[EnvProvider] != "deepseek" {
		t.Errorf("values = %v", values)
	}
}
