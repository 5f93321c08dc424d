// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package identity maps caller principals to registered users and their
// trusted-operator (stalwart) flag.
package identity

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrUserExists      = errors.New("user already exists")
	ErrPrincipalInUse  = errors.New("principal already registered")
	ErrInvalidUsername = errors.New("invalid username")
	ErrUnknownUser     = errors.New("unknown user")
)

type User struct {
	ID        uint64
	Name      string
	Principal string
	Stalwart  bool
}

// Caller is the resolved identity of a request
type Caller struct {
	Principal  string
	UserID     uint64
	Stalwart   bool
	Registered bool
}

// Resolver maps a caller credential to a user identity
type Resolver interface {
	Resolve(principal string) Caller
}

// Registry holds the user set. It is not safe for concurrent use.
type Registry struct {
	users       map[uint64]*User
	byPrincipal map[string]uint64
	byName      map[string]uint64
	nextID      uint64
}

func NewRegistry() *Registry {
	return &Registry{
		users:       make(map[uint64]*User),
		byPrincipal: make(map[string]uint64),
		byName:      make(map[string]uint64),
	}
}

// FromUsers rebuilds a registry from persisted users
func FromUsers(users []User, nextID uint64) (*Registry, error) {
	r := NewRegistry()
	if err := r.Load(users, nextID); err != nil {
		return nil, err
	}
	return r, nil
}

// Load replaces the registry contents in place. On error the registry
// is left unchanged.
func (r *Registry) Load(users []User, nextID uint64) error {
	tmp := NewRegistry()
	for _, u := range users {
		if err := tmp.insert(u); err != nil {
			return err
		}
		if u.ID >= nextID {
			nextID = u.ID + 1
		}
	}
	r.users = tmp.users
	r.byPrincipal = tmp.byPrincipal
	r.byName = tmp.byName
	r.nextID = nextID
	return nil
}

// Create registers a new user for the given principal
func (r *Registry) Create(principal, name string) (User, error) {
	name = strings.TrimSpace(name)
	if err := ValidateUsername(name); err != nil {
		return User{}, err
	}
	u := User{
		ID:        r.nextID,
		Name:      name,
		Principal: principal,
	}
	if err := r.insert(u); err != nil {
		return User{}, err
	}
	r.nextID++
	return u, nil
}

func (r *Registry) insert(u User) error {
	if _, ok := r.users[u.ID]; ok {
		return fmt.Errorf("%w: id %d", ErrUserExists, u.ID)
	}
	if _, ok := r.byPrincipal[u.Principal]; ok {
		return fmt.Errorf("%w: %s", ErrPrincipalInUse, u.Principal)
	}
	key := strings.ToLower(u.Name)
	if _, ok := r.byName[key]; ok {
		return fmt.Errorf("%w: %s", ErrUserExists, u.Name)
	}
	tmp := u
	r.users[u.ID] = &tmp
	r.byPrincipal[u.Principal] = u.ID
	r.byName[key] = u.ID
	return nil
}

// SetStalwart grants or revokes the trusted-operator flag
func (r *Registry) SetStalwart(id uint64, stalwart bool) error {
	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownUser, id)
	}
	u.Stalwart = stalwart
	return nil
}

func (r *Registry) Get(id uint64) (User, bool) {
	u, ok := r.users[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

func (r *Registry) ByPrincipal(principal string) (User, bool) {
	id, ok := r.byPrincipal[principal]
	if !ok {
		return User{}, false
	}
	return r.Get(id)
}

func (r *Registry) ByName(name string) (User, bool) {
	id, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return User{}, false
	}
	return r.Get(id)
}

// Resolve implements Resolver. Unknown principals resolve to an
// unregistered caller.
func (r *Registry) Resolve(principal string) Caller {
	u, ok := r.ByPrincipal(principal)
	if !ok {
		return Caller{Principal: principal}
	}
	return Caller{
		Principal:  principal,
		UserID:     u.ID,
		Stalwart:   u.Stalwart,
		Registered: true,
	}
}

// Users returns all users ordered by ID
func (r *Registry) Users() []User {
	ret := make([]User, 0, len(r.users))
	for _, u := range r.users {
		ret = append(ret, *u)
	}
	slices.SortFunc(ret, func(a, b User) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return ret
}

func (r *Registry) NextID() uint64 {
	return r.nextID
}

func (r *Registry) Len() int {
	return len(r.users)
}

// ValidateUsername checks that a name is 2-16 ASCII letters, digits or
// underscores and does not start with a digit
func ValidateUsername(name string) error {
	if len(name) < 2 || len(name) > 16 {
		return fmt.Errorf("%w: length must be 2-16", ErrInvalidUsername)
	}
	if name[0] >= '0' && name[0] <= '9' {
		return fmt.Errorf("%w: must not start with a digit", ErrInvalidUsername)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidUsername, c)
		}
	}
	return nil
}
