package catalog

import (
	"fmt"
	"os"

	"github.com/leafsii/combined-position/internal/transact"
	"gopkg.in/yaml.v3"
)

type Chain struct {
	ID   transact.ChainID `yaml:"id" json:"id"`
	Name string           `yaml:"name" json:"name"`
}

type file struct {
	Chains []Chain          `yaml:"chains"`
	Tokens []transact.Token `yaml:"tokens"`
	Vaults []transact.Vault `yaml:"vaults"`
}

type tokenKey struct {
	chain   transact.ChainID
	address string
}

// Catalog is the read-only set of chains, tokens and vaults the service knows.
type Catalog struct {
	chains []Chain
	tokens []transact.Token
	vaults []transact.Vault

	vaultByID   map[string]transact.Vault
	tokenByAddr map[tokenKey]transact.Token
	chainByID   map[transact.ChainID]Chain
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(f.Chains, f.Tokens, f.Vaults)
}

func New(chains []Chain, tokens []transact.Token, vaults []transact.Vault) (*Catalog, error) {
	c := &Catalog{
		chains:      chains,
		tokens:      append([]transact.Token(nil), tokens...),
		vaults:      vaults,
		vaultByID:   make(map[string]transact.Vault, len(vaults)),
		tokenByAddr: make(map[tokenKey]transact.Token, len(tokens)),
		chainByID:   make(map[transact.ChainID]Chain, len(chains)),
	}

	for _, ch := range chains {
		c.chainByID[ch.ID] = ch
	}
	for i, t := range tokens {
		if t.Type == "" {
			t.Type = transact.TokenTypeERC20
			c.tokens[i] = t
		}
		if !t.Resolvable() {
			return nil, fmt.Errorf("token %q needs chainId and address", t.Symbol)
		}
		if _, ok := c.chainByID[t.ChainID]; len(chains) > 0 && !ok {
			return nil, fmt.Errorf("token %s references unknown chain %s", t.Symbol, t.ChainID)
		}
		c.tokenByAddr[tokenKey{t.ChainID, transact.NormalizeAddress(t.Address)}] = t
	}
	for _, v := range vaults {
		if v.ID == "" {
			return nil, fmt.Errorf("vault without id")
		}
		if _, dup := c.vaultByID[v.ID]; dup {
			return nil, fmt.Errorf("duplicate vault id %s", v.ID)
		}
		if _, ok := c.chainByID[v.ChainID]; len(chains) > 0 && !ok {
			return nil, fmt.Errorf("vault %s references unknown chain %s", v.ID, v.ChainID)
		}
		c.vaultByID[v.ID] = v
	}
	return c, nil
}

func (c *Catalog) GetVaultByID(id string) (transact.Vault, bool) {
	v, ok := c.vaultByID[id]
	return v, ok
}

func (c *Catalog) TokenByAddress(chainID transact.ChainID, address string) (transact.Token, bool) {
	t, ok := c.tokenByAddr[tokenKey{chainID, transact.NormalizeAddress(address)}]
	return t, ok
}

func (c *Catalog) Chain(id transact.ChainID) (Chain, bool) {
	ch, ok := c.chainByID[id]
	return ch, ok
}

// Vaults returns vaults in file order, optionally restricted to one chain.
func (c *Catalog) Vaults(chainID transact.ChainID) []transact.Vault {
	out := make([]transact.Vault, 0, len(c.vaults))
	for _, v := range c.vaults {
		if chainID == "" || v.ChainID == chainID {
			out = append(out, v)
		}
	}
	return out
}

func (c *Catalog) Tokens() []transact.Token {
	return append([]transact.Token(nil), c.tokens...)
}

func (c *Catalog) Chains() []Chain {
	return append([]Chain(nil), c.chains...)
}
