// README: Common money value object used across modules.
package types

// Money is an opaque integer amount; no minor units are modelled.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}
