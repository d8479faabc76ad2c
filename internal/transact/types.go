package transact

import (
	"strings"

	"github.com/shopspring/decimal"
)

type ChainID string

type TokenType string

const (
	TokenTypeNative TokenType = "native"
	TokenTypeERC20  TokenType = "erc20"
)

type Token struct {
	ChainID  ChainID   `json:"chainId" yaml:"chainId"`
	Address  string    `json:"address" yaml:"address"`
	Symbol   string    `json:"symbol" yaml:"symbol"`
	Decimals int       `json:"decimals" yaml:"decimals"`
	Type     TokenType `json:"type" yaml:"type"`
}

// Resolvable reports whether the token carries enough identity for a price lookup.
func (t Token) Resolvable() bool {
	return t.Address != "" && t.ChainID != ""
}

func (t Token) IsNative() bool {
	return t.Type == TokenTypeNative
}

const StrategyMultiLP = "multi-lp"

type Vault struct {
	ID                  string  `json:"id" yaml:"id"`
	Name                string  `json:"name" yaml:"name"`
	ChainID             ChainID `json:"chainId" yaml:"chainId"`
	DepositTokenAddress string  `json:"depositTokenAddress" yaml:"depositTokenAddress"`
	StrategyType        string  `json:"strategyType" yaml:"strategyType"`
	Status              string  `json:"status,omitempty" yaml:"status"`
}

type Mode string

const (
	ModeDeposit  Mode = "deposit"
	ModeWithdraw Mode = "withdraw"
)

// Option is a discovered route able to turn some input tokens into a vault deposit.
type Option struct {
	ID             string  `json:"id"`
	VaultID        string  `json:"vaultId"`
	Mode           Mode    `json:"mode"`
	Strategy       string  `json:"strategy"`
	Inputs         []Token `json:"inputs"`
	DepositCapable bool    `json:"depositCapable"`
}

// Accepts reports whether token is one of the option's inputs on the same chain.
func (o Option) Accepts(token Token) bool {
	for _, input := range o.Inputs {
		if input.ChainID == token.ChainID && SameAddress(input.Address, token.Address) {
			return true
		}
	}
	return false
}

type TokenAmount struct {
	Token  Token           `json:"token"`
	Amount decimal.Decimal `json:"amount"`
}

type InputAmount struct {
	Token  Token           `json:"token"`
	Amount decimal.Decimal `json:"amount"`
	Max    bool            `json:"max"`
}

type Allowance struct {
	Token          Token           `json:"token"`
	SpenderAddress string          `json:"spenderAddress"`
	Amount         decimal.Decimal `json:"amount"`
}

type Step struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type Fee struct {
	Value float64 `json:"value"`
}

type Quote struct {
	ID         string        `json:"id"`
	OptionID   string        `json:"optionId"`
	Outputs    []TokenAmount `json:"outputs"`
	Steps      []Step        `json:"steps"`
	Allowances []Allowance   `json:"allowances"`
	Fee        *Fee          `json:"fee,omitempty"`
}

type AllowanceRequest struct {
	ChainID        ChainID `json:"chainId"`
	SpenderAddress string  `json:"spenderAddress"`
	Tokens         []Token `json:"tokens"`
	WalletAddress  string  `json:"walletAddress"`
}

func symbols(tokens []Token) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t.Symbol)
	}
	return out
}

// InputSymbols lists every input symbol across options, in order.
func InputSymbols(options []Option) string {
	var all []string
	for _, o := range options {
		all = append(all, symbols(o.Inputs)...)
	}
	return strings.Join(all, ", ")
}
