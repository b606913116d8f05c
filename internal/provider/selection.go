package provider

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"

	"github.com/joho/godotenv"

	"github.com/hitoshi/chronique/internal/model"
)

// SelectionStore はプロセス全体で共有される有効なプロバイダ選択を保持する。
// 読み出しはロックなしで行い、切り替えは選択全体を一度に差し替える。
type SelectionStore struct {
	current atomic.Pointer[model.ActiveSelection]
}

// NewSelectionStore は初期選択を持つSelectionStoreを生成する。
func NewSelectionStore(initial model.ActiveSelection) *SelectionStore {
	s := &SelectionStore{}
	s.current.Store(&initial)
	return s
}

// Load は現在の選択を返す。
func (s *SelectionStore) Load() model.ActiveSelection {
	return *s.current.Load()
}

// Swap は選択を差し替え、直前の選択を返す。
func (s *SelectionStore) Swap(next model.ActiveSelection) model.ActiveSelection {
	return *s.current.Swap(&next)
}

// SelectionPersister は選択を再起動後も保持するための永続化先。
type SelectionPersister interface {
	Persist(sel model.ActiveSelection) error
}

// 環境変数名
const (
	EnvProvider = "LLM_PROVIDER"
	EnvModel    = "LLM_MODEL"
)

// EnvFileStore は選択を.envファイルのLLM_PROVIDER/LLM_MODELとして保存する。
// ファイル内の他のキーは保持される。
type EnvFileStore struct {
	path string
	mu   sync.Mutex
}

var _ SelectionPersister = (*EnvFileStore)(nil)

// NewEnvFileStore はEnvFileStoreを生成する。
func NewEnvFileStore(path string) *EnvFileStore {
	return &EnvFileStore{path: path}
}

// Persist は.envファイルを読み込み、選択を反映して書き戻す。
// ファイルが存在しない場合は新規に作成する。ModelKeyが空の場合はLLM_MODELを削除する。
func (s *EnvFileStore) Persist(sel model.ActiveSelection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := godotenv.Read(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf(".envファイルの読み込みに失敗しました: %w", err)
		}
		values = map[string]string{}
	}

	values[EnvProvider] = sel.ProviderKey
	if sel.ModelKey != "" {
		values[EnvModel] = sel.ModelKey
	} else {
		delete(values, EnvModel)
	}

	if err := godotenv.Write(values, s.path); err != nil {
		return fmt.Errorf(".envファイルの書き込みに失敗しました: %w", err)
	}
	return nil
}
