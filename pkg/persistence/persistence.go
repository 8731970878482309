package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/web3mt/web3mt/pkg/logger"
)

// Service 持久化服务接口
type Service interface {
	NewStore(prefix, id, tag string) Store
	List(prefix string) ([]Store, error)
}

// Store 存储接口
type Store interface {
	Key() string
	Save(data interface{}) error
	Load(data interface{}) error
	Delete() error
}

// ErrNotExists 表示数据不存在
var ErrNotExists = errors.New("persistence data not exists")

// JSONFileService 基于 JSON 文件的持久化服务，一个 key 一个文件
type JSONFileService struct {
	baseDir string
	mu      sync.Mutex
}

// NewJSONFileService 创建 JSON 文件持久化服务
func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{baseDir: baseDir}
}

// NewStore 创建新的存储，key 形如 "<prefix>:<id>:<tag>"
func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	return &JSONFileStore{
		service: s,
		key:     fmt.Sprintf("%s:%s:%s", prefix, id, tag),
	}
}

// List 返回某个 prefix 下所有已落盘的记录（按文件名排序），Key() 为文件名形式
func (s *JSONFileService) List(prefix string) ([]Store, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	safePrefix := sanitize(prefix) + "_"
	var out []Store
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || !strings.HasPrefix(name, safePrefix) {
			continue
		}
		out = append(out, &JSONFileStore{service: s, key: strings.TrimSuffix(name, ".json")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// JSONFileStore JSON 文件存储实现
type JSONFileStore struct {
	service *JSONFileService
	key     string
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitize(key string) string {
	return keySanitizer.ReplaceAllString(key, "_")
}

func (s *JSONFileStore) filePath() string {
	return filepath.Join(s.service.baseDir, sanitize(s.key)+".json")
}

// Key 返回存储 key
func (s *JSONFileStore) Key() string { return s.key }

// Save 保存数据（先写 tmp 再 rename，避免半截文件）
func (s *JSONFileStore) Save(data interface{}) error {
	logger.Debugf("[persistence] Save: key=%s", s.key)
	s.service.mu.Lock()
	defer s.service.mu.Unlock()

	if err := os.MkdirAll(s.service.baseDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	path := s.filePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load 加载数据
func (s *JSONFileStore) Load(data interface{}) error {
	logger.Debugf("[persistence] Load: key=%s", s.key)
	b, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}

// Delete 删除数据，不存在时不报错
func (s *JSONFileStore) Delete() error {
	s.service.mu.Lock()
	defer s.service.mu.Unlock()
	if err := os.Remove(s.filePath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
