package fetcher

import "strings"

const defaultSlippageCoefficient = 0.003

// Token maps one logical token onto every source's identifier space.
type Token struct {
	Symbol      string
	Mint        string
	CoinGeckoID string
	KrakenPair  string
	// StaticEstimate is the conservative last-resort price; zero means none.
	StaticEstimate float64
	// SlippageCoefficient scales the ladder's sqrt(size/1000) slippage curve.
	SlippageCoefficient float64
}

// DefaultTokens returns the built-in Solana watch universe.
func DefaultTokens() []Token {
	return []Token{
		{Symbol: "SOL", Mint: "So11111111111111111111111111111111111111112", CoinGeckoID: "solana", KrakenPair: "SOLUSD", StaticEstimate: 180.0, SlippageCoefficient: 0.001},
		{Symbol: "mSOL", Mint: "mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So", CoinGeckoID: "marinade-staked-sol", StaticEstimate: 190.0},
		{Symbol: "stSOL", Mint: "7dHbWXmci3dT8UFYWYZweBLXgycu7Y3iL6trKn1Y7ARj", CoinGeckoID: "lido-staked-sol", StaticEstimate: 185.0},
		{Symbol: "BONK", Mint: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", CoinGeckoID: "bonk", StaticEstimate: 0.000025},
		{Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", CoinGeckoID: "usd-coin", KrakenPair: "USDCUSD", StaticEstimate: 0.9999, SlippageCoefficient: 0.0005},
		{Symbol: "USDT", Mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", CoinGeckoID: "tether", KrakenPair: "USDTUSD", StaticEstimate: 0.9998},
	}
}

// Registry indexes tokens by mint and by symbol.
type Registry struct {
	tokens   []Token
	byMint   map[string]Token
	bySymbol map[string]Token
}

// NewRegistry builds a registry; later entries override earlier ones with the
// same mint or symbol.
func NewRegistry(tokens []Token) *Registry {
	r := &Registry{
		byMint:   make(map[string]Token, len(tokens)),
		bySymbol: make(map[string]Token, len(tokens)),
	}
	for _, t := range tokens {
		if t.Mint == "" {
			continue
		}
		if t.SlippageCoefficient <= 0 {
			t.SlippageCoefficient = defaultSlippageCoefficient
		}
		if _, dup := r.byMint[t.Mint]; !dup {
			r.tokens = append(r.tokens, t)
		} else {
			for i := range r.tokens {
				if r.tokens[i].Mint == t.Mint {
					r.tokens[i] = t
				}
			}
		}
		r.byMint[t.Mint] = t
		if t.Symbol != "" {
			r.bySymbol[strings.ToUpper(t.Symbol)] = t
		}
	}
	return r
}

// Lookup finds a token by mint or symbol.
func (r *Registry) Lookup(idOrSymbol string) (Token, bool) {
	if t, ok := r.byMint[idOrSymbol]; ok {
		return t, true
	}
	t, ok := r.bySymbol[strings.ToUpper(idOrSymbol)]
	return t, ok
}

// Token returns the registered token for mint, or a bare token carrying only
// the identifier so unrecognised mints still flow through the chain.
func (r *Registry) Token(mint string) Token {
	if t, ok := r.byMint[mint]; ok {
		return t
	}
	return Token{Mint: mint, SlippageCoefficient: defaultSlippageCoefficient}
}

// Normalize maps a known symbol to its mint and returns anything else unchanged.
func (r *Registry) Normalize(idOrSymbol string) string {
	if t, ok := r.Lookup(idOrSymbol); ok {
		return t.Mint
	}
	return idOrSymbol
}

// Tokens lists registered tokens in registration order.
func (r *Registry) Tokens() []Token {
	out := make([]Token, len(r.tokens))
	copy(out, r.tokens)
	return out
}
