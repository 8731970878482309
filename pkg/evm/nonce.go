package evm

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceManager 本地维护每个地址的下一个 nonce。
// 节点的 pending nonce 可能还没看到我们刚发出的交易，所以取两者较大值；
// refresh 时以节点为准（交易被丢弃 / nonce 过低之后）。
type NonceManager struct {
	mu   sync.Mutex
	next map[common.Address]uint64
}

func NewNonceManager() *NonceManager {
	return &NonceManager{next: make(map[common.Address]uint64)}
}

// Acquire 分配一个 nonce
func (m *NonceManager) Acquire(ctx context.Context, b Backend, addr common.Address, refresh bool) (uint64, error) {
	remote, err := b.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := remote
	if local, ok := m.next[addr]; ok && !refresh && local > remote {
		n = local
	}
	m.next[addr] = n + 1
	return n, nil
}

// Release 交易最终没有广播出去时归还 nonce（只在它仍是最后分配的那个时生效）
func (m *NonceManager) Release(addr common.Address, nonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next[addr] == nonce+1 {
		m.next[addr] = nonce
	}
}

// Reset 丢弃本地记录
func (m *NonceManager) Reset(addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.next, addr)
}

// Peek 查看本地记录的下一个 nonce
func (m *NonceManager) Peek(addr common.Address) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.next[addr]
	return n, ok
}
