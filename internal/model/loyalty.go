package model

// Tier описывает уровень программы лояльности, производный от накопленных баллов.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// LoyaltyAccount содержит баланс баллов покупателя.
type LoyaltyAccount struct {
	CustomerID string `json:"customerId"`
	Points     int64  `json:"points"`
	Tier       Tier   `json:"tier"`
}
