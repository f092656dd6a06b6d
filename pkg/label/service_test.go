package label

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/cache"
	"github.com/rbeam/rbeam/pkg/profile"
)

type fakeStore struct {
	labels map[string]Label
}

func (f *fakeStore) Get(_ context.Context, id string) (Label, error) {
	if l, ok := f.labels[id]; ok {
		return l, nil
	}
	return Label{}, pgx.ErrNoRows
}

func (f *fakeStore) Insert(_ context.Context, l Label) error {
	f.labels[l.ID] = l
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	delete(f.labels, id)
	return nil
}

func (f *fakeStore) List(_ context.Context) ([]Label, error) {
	var labels []Label
	for _, l := range f.labels {
		labels = append(labels, l)
	}
	return labels, nil
}

type fakeGroups struct{}

func (fakeGroups) GetGroupByID(_ context.Context, id int32) (profile.Group, error) {
	if id == 1 {
		return profile.Group{ID: 1, Permissions: []profile.GroupPermission{profile.PermHelper}}, nil
	}
	return profile.DefaultGroup(), nil
}

func newTestService() (*Service, *fakeStore) {
	store := &fakeStore{labels: map[string]Label{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var ts uint64
	return NewService(store, cache.NewMemory(), fakeGroups{}, logger, func() uint64 { ts++; return ts }), store
}

func TestCreateLabel(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	helper := &profile.Profile{ID: "id-helper-0000000000000000000000", Group: 1}
	user := &profile.Profile{ID: "id-user-000000000000000000000000"}

	t.Run("non-helper refused", func(t *testing.T) {
		_, err := svc.Create(ctx, CreateParams{Name: "artist"}, user)
		if apierror.KindOf(err) != apierror.NotAllowed {
			t.Errorf("error = %v, want NotAllowed", err)
		}
	})

	t.Run("name bounds", func(t *testing.T) {
		if _, err := svc.Create(ctx, CreateParams{Name: "x"}, helper); apierror.KindOf(err) != apierror.ValueError {
			t.Errorf("short name = %v, want ValueError", err)
		}
		if _, err := svc.Create(ctx, CreateParams{Name: strings.Repeat("x", 33)}, helper); apierror.KindOf(err) != apierror.ValueError {
			t.Errorf("long name = %v, want ValueError", err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		l, err := svc.Create(ctx, CreateParams{Name: "artist"}, helper)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := svc.Get(ctx, l.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Name != "artist" || got.Creator != helper.ID {
			t.Errorf("label = %+v", got)
		}
	})
}
