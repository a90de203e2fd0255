// Package profile persists named filter presets (type and relation id sets)
// through a pluggable backend.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sanonone/cigraph/pkg/cmdb"
)

// ErrInvalidProfile is returned for a profile that fails validation.
var ErrInvalidProfile = errors.New("invalid filter profile")

// ErrNotFound is returned by backends for an unknown public id.
var ErrNotFound = errors.New("filter profile not found")

// Backend is the CRUD surface of the filter-profile resource.
type Backend interface {
	ListProfiles(ctx context.Context) ([]cmdb.FilterProfile, error)
	CreateProfile(ctx context.Context, p cmdb.FilterProfile) (cmdb.FilterProfile, error)
	UpdateProfile(ctx context.Context, publicID int, p cmdb.FilterProfile) (cmdb.FilterProfile, error)
	DeleteProfile(ctx context.Context, publicID int) error
}

// Error wraps a failed profile operation with the text shown to the user.
type Error struct {
	Op       string
	PublicID int
	Err      error
}

func (e *Error) Error() string {
	if e.PublicID > 0 {
		return fmt.Sprintf("profile %s %d: %v", e.Op, e.PublicID, e.Err)
	}
	return fmt.Sprintf("profile %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Notification is the message surfaced to the presentation layer.
func (e *Error) Notification() string {
	if errors.Is(e.Err, ErrInvalidProfile) {
		return "The filter profile needs a name."
	}
	if errors.Is(e.Err, ErrNotFound) {
		return "The filter profile no longer exists."
	}
	switch e.Op {
	case "list":
		return "Could not load filter profiles."
	case "create":
		return "Could not save the filter profile."
	case "update":
		return "Could not update the filter profile."
	case "delete":
		return "Could not delete the filter profile."
	}
	return "Filter profile operation failed."
}

// Service validates profiles and forwards them to the backend. Failures are
// reported once; nothing is retried.
type Service struct {
	backend  Backend
	validate *validator.Validate
}

func NewService(backend Backend) *Service {
	return &Service{backend: backend, validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (s *Service) fail(op string, id int, err error) error {
	slog.Warn("Filter profile operation failed", "op", op, "public_id", id, "error", err)
	return &Error{Op: op, PublicID: id, Err: err}
}

func (s *Service) check(p *cmdb.FilterProfile) error {
	p.Name = strings.TrimSpace(p.Name)
	if err := s.validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if p.TypesFilter == nil {
		p.TypesFilter = []int{}
	}
	if p.RelationsFilter == nil {
		p.RelationsFilter = []int{}
	}
	return nil
}

func (s *Service) List(ctx context.Context) ([]cmdb.FilterProfile, error) {
	list, err := s.backend.ListProfiles(ctx)
	if err != nil {
		return nil, s.fail("list", 0, err)
	}
	return list, nil
}

// Get returns the profile with the given public id.
func (s *Service) Get(ctx context.Context, publicID int) (cmdb.FilterProfile, error) {
	list, err := s.backend.ListProfiles(ctx)
	if err != nil {
		return cmdb.FilterProfile{}, s.fail("get", publicID, err)
	}
	for _, p := range list {
		if p.PublicID == publicID {
			return p, nil
		}
	}
	return cmdb.FilterProfile{}, s.fail("get", publicID, ErrNotFound)
}

func (s *Service) Create(ctx context.Context, p cmdb.FilterProfile) (cmdb.FilterProfile, error) {
	if err := s.check(&p); err != nil {
		return cmdb.FilterProfile{}, s.fail("create", 0, err)
	}
	p.PublicID = 0
	out, err := s.backend.CreateProfile(ctx, p)
	if err != nil {
		return cmdb.FilterProfile{}, s.fail("create", 0, err)
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, publicID int, p cmdb.FilterProfile) (cmdb.FilterProfile, error) {
	if err := s.check(&p); err != nil {
		return cmdb.FilterProfile{}, s.fail("update", publicID, err)
	}
	p.PublicID = publicID
	out, err := s.backend.UpdateProfile(ctx, publicID, p)
	if err != nil {
		return cmdb.FilterProfile{}, s.fail("update", publicID, err)
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, publicID int) error {
	if err := s.backend.DeleteProfile(ctx, publicID); err != nil {
		return s.fail("delete", publicID, err)
	}
	return nil
}
