// Package validation содержит генерацию и проверку номеров заказов.
package validation

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// IsValidOrderNumber проверяет корректность номера заказа по алгоритму Луна.
func IsValidOrderNumber(number string) bool {
	if number == "" {
		return false
	}
	return luhnSum(number, false)%10 == 0
}

// luhnSum возвращает контрольную сумму Луна; для нецифровых строк возвращает -1.
// doubleFirst задаёт, удваивается ли самая правая цифра (нужно при вычислении контрольной цифры).
func luhnSum(number string, doubleFirst bool) int {
	sum := 0
	double := doubleFirst

	for i := len(number) - 1; i >= 0; i-- {
		ch := rune(number[i])
		if !unicode.IsDigit(ch) {
			return -1
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum
}

// CheckDigit вычисляет контрольную цифру Луна для строки из цифр.
func CheckDigit(digits string) (int, error) {
	sum := luhnSum(digits, true)
	if sum < 0 {
		return 0, fmt.Errorf("non-digit characters in %q", digits)
	}
	return (10 - sum%10) % 10, nil
}

// NewOrderNumber формирует номер родительского заказа: секунды unix, пять случайных цифр и контрольная цифра.
// Номер служит и кодом-ссылкой для перевода через кошелёк, поэтому состоит только из цифр.
func NewOrderNumber(now time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100000))
	if err != nil {
		return "", fmt.Errorf("random suffix: %w", err)
	}

	base := fmt.Sprintf("%d%05d", now.Unix(), n.Int64())
	check, err := CheckDigit(base)
	if err != nil {
		return "", err
	}

	return base + strconv.Itoa(check), nil
}

// ChildOrderID возвращает идентификатор заказа продавца с порядковым номером группы (с единицы).
func ChildOrderID(parent string, index int) string {
	return parent + "-" + strconv.Itoa(index)
}

// IsValidOrderID принимает родительский номер или номер вида <родитель>-<n>.
func IsValidOrderID(id string) bool {
	parent, suffix, found := strings.Cut(id, "-")
	if !found {
		return IsValidOrderNumber(parent)
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 1 || strconv.Itoa(n) != suffix {
		return false
	}
	return IsValidOrderNumber(parent)
}
