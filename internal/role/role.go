// Package role приводит ссылку на роль пользователя к каноническому имени
// и строит предикат области видимости для запросов движка.
package role

import (
	"fmt"
	"strings"

	"github.com/mmeshcher/barpoints-system/internal/model"
)

// Ссылка на роль в исходных данных встречается в трёх видах: простое имя
// ("admin"), ключ каталога ("role:admin") и устаревший числовой ключ.
// Resolve разбирает все три ровно один раз на границе аутентификации;
// дальше по коду ходит только каноническая модель.

const lookupPrefix = "role:"

// Устаревшие числовые ключи каталога ролей.
var legacyCatalog = map[string]model.Role{
	"1": model.RoleAdmin,
	"2": model.RoleBrandRep,
	"3": model.RoleBarManager,
	"4": model.RoleBartender,
}

// Resolve возвращает каноническую роль для ссылки любого поддерживаемого вида.
func Resolve(ref string) (model.Role, error) {
	name := strings.TrimSpace(strings.ToLower(ref))
	name = strings.TrimPrefix(name, lookupPrefix)

	if r, ok := legacyCatalog[name]; ok {
		return r, nil
	}

	switch model.Role(name) {
	case model.RoleAdmin, model.RoleBrandRep, model.RoleBarManager, model.RoleBartender:
		return model.Role(name), nil
	}

	return "", fmt.Errorf("unknown role reference %q: %w", ref, model.ErrValidation)
}

// Scope — область видимости, производная от роли. Применяется ко всем
// операциям чтения и модерации движка.
type Scope struct {
	Role   model.Role
	UserID int64
	BarID  *int64
	Brands []string
}

// ScopeFor строит область видимости для пользователя, разбирая его ссылку на роль.
func ScopeFor(u *model.User) (Scope, error) {
	r, err := Resolve(u.RoleRef)
	if err != nil {
		return Scope{}, err
	}
	return Scope{
		Role:   r,
		UserID: u.ID,
		BarID:  u.BarID,
		Brands: u.Brands,
	}, nil
}

// CanModerate сообщает, допускает ли роль операции модерации продаж.
func (s Scope) CanModerate() bool {
	switch s.Role {
	case model.RoleAdmin, model.RoleBrandRep, model.RoleBarManager:
		return true
	}
	return false
}

// AllowsSale проверяет, попадает ли продажа в область видимости.
// Представитель бренда без назначенных брендов не видит ничего.
func (s Scope) AllowsSale(sale *model.Sale) bool {
	switch s.Role {
	case model.RoleAdmin:
		return true
	case model.RoleBrandRep:
		for _, b := range s.Brands {
			if b == sale.Brand {
				return true
			}
		}
		return false
	case model.RoleBarManager:
		return s.BarID != nil && sale.BarID == *s.BarID
	case model.RoleBartender:
		return sale.UserID == s.UserID
	}
	return false
}

// AllowsUser проверяет доступ к записям другого пользователя: свои записи
// видны всегда, чужие — только администратору.
func (s Scope) AllowsUser(userID int64) bool {
	return s.Role == model.RoleAdmin || s.UserID == userID
}
