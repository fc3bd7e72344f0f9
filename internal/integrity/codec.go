// Package integrity вычисляет контрольные суммы и токены заказов для обнаружения подмены.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mmeshcher/stallorder/internal/apperr"
	"github.com/mmeshcher/stallorder/internal/model"
)

const tokenMACSize = 16

// Codec подписывает неизменяемые поля заказа секретным ключом.
type Codec struct {
	secretKey []byte
}

// NewCodec создаёт кодек с указанным секретом.
func NewCodec(secret string) *Codec {
	return &Codec{secretKey: []byte(secret)}
}

// canonical сериализует неизменяемые поля заказа в стабильную строку.
func canonical(o *model.Order) string {
	var b strings.Builder
	field := func(s string) {
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
		b.WriteByte('|')
	}

	field(o.OrderID)
	field(o.ParentOrderID)
	field(o.CustomerID)
	field(o.VendorID)
	field(string(o.PaymentMethod))
	field(strconv.FormatInt(o.CreatedAt.UnixMilli(), 10))
	field(strconv.FormatInt(int64(o.Subtotal), 10))
	field(strconv.FormatInt(int64(o.VoucherDiscount), 10))
	field(strconv.FormatInt(int64(o.TotalAmount), 10))
	field(optionalMoney(o.CashAmount))
	field(optionalMoney(o.ChangeDue))

	// Реквизиты перевода фиксируются при оформлении; статус и данные отправителя меняются.
	if wp := o.WalletPayment; wp != nil {
		field("wallet")
		field(wp.ReferenceCode)
		field(wp.VendorWalletHandle)
		field(strconv.FormatInt(int64(wp.Amount), 10))
		field(strconv.FormatInt(wp.CreatedAt.UnixMilli(), 10))
		field(strconv.FormatInt(wp.ExpiresAt.UnixMilli(), 10))
	} else {
		field("")
	}

	for _, it := range o.Items {
		field(it.MenuItemID)
		field(strconv.Itoa(it.Quantity))
		field(strconv.FormatInt(int64(it.Price), 10))
		for _, c := range it.Customizations {
			field(c.Name)
			field(strconv.FormatInt(int64(c.Price), 10))
		}
	}

	return b.String()
}

func optionalMoney(m *model.Money) string {
	if m == nil {
		return ""
	}
	return strconv.FormatInt(int64(*m), 10)
}

func (c *Codec) mac(parts ...string) []byte {
	m := hmac.New(sha256.New, c.secretKey)
	for _, p := range parts {
		m.Write([]byte(p))
	}
	return m.Sum(nil)
}

// Checksum возвращает hex-подпись неизменяемых полей заказа.
func (c *Codec) Checksum(o *model.Order) string {
	return hex.EncodeToString(c.mac("order|", canonical(o)))
}

// Seal пересчитывает контрольную сумму и выпускает токен, если его ещё нет.
func (c *Codec) Seal(o *model.Order) {
	o.Checksum = c.Checksum(o)
	if o.Token == "" {
		o.Token = c.NewToken(o.OrderID)
	}
}

// Verify сообщает, совпадает ли сохранённая контрольная сумма с пересчитанной.
func (c *Codec) Verify(o *model.Order) bool {
	if o == nil || o.Checksum == "" {
		return false
	}
	return hmac.Equal([]byte(o.Checksum), []byte(c.Checksum(o)))
}

// Check возвращает ErrChecksumMismatch, если заказ был изменён в обход кодека.
func (c *Codec) Check(o *model.Order) error {
	if !c.Verify(o) {
		return apperr.ErrChecksumMismatch.With("checksum mismatch for order %s", o.OrderID)
	}
	return nil
}

// NewToken выпускает непрозрачный токен, привязанный к номеру заказа.
func (c *Codec) NewToken(orderID string) string {
	nonce := uuid.New()
	sig := c.mac("token|", orderID, "|", string(nonce[:]))[:tokenMACSize]

	raw := make([]byte, 0, len(nonce)+tokenMACSize)
	raw = append(raw, nonce[:]...)
	raw = append(raw, sig...)

	return base64.RawURLEncoding.EncodeToString(raw)
}

// ValidateToken проверяет, что токен выпущен этим кодеком для указанного заказа.
func (c *Codec) ValidateToken(orderID, token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != 16+tokenMACSize {
		return false
	}

	nonce, sig := raw[:16], raw[16:]
	expected := c.mac("token|", orderID, "|", string(nonce))[:tokenMACSize]

	return hmac.Equal(sig, expected)
}
