// Package repository содержит реализации хранилища: PostgreSQL и in-memory.
package repository

import "github.com/mmeshcher/stallorder/internal/apperr"

// ErrOrderExists возвращается при повторном создании заказа с тем же номером.
var ErrOrderExists = apperr.ErrOrderExists
