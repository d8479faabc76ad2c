package session

import (
	"sync"

	"github.com/leafsii/combined-position/internal/transact"
)

// Wallet is the wallet context of one session, as reported by the client.
type Wallet struct {
	mu      sync.RWMutex
	address string
	chainID transact.ChainID
}

// WalletInfo is the serializable form of a Wallet.
type WalletInfo struct {
	Address string           `json:"address,omitempty"`
	ChainID transact.ChainID `json:"chainId,omitempty"`
}

func (w *Wallet) Set(address string, chainID transact.ChainID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.address = address
	w.chainID = chainID
}

func (w *Wallet) CurrentAddress() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.address
}

func (w *Wallet) IsConnected() bool {
	return w.CurrentAddress() != ""
}

func (w *Wallet) ChainID() transact.ChainID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.chainID
}

func (w *Wallet) Info() WalletInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WalletInfo{Address: w.address, ChainID: w.chainID}
}

var _ transact.Wallet = (*Wallet)(nil)
