package schedule

import (
	"context"
	"errors"
	"testing"

	"checktime/internal/calendar"
	"checktime/internal/storage"
	logx "checktime/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListEligibleUsers(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	ok, _ := st.PutUser(ctx, calendar.User{Name: "ok", RemoteEnabled: true,
		Remote: &calendar.RemoteAccount{Username: "ok", SealedPassword: "p"}})
	noPass, _ := st.PutUser(ctx, calendar.User{Name: "nopass", RemoteEnabled: true,
		Remote: &calendar.RemoteAccount{Username: "np"}})
	_, _ = st.PutUser(ctx, calendar.User{Name: "noacct", RemoteEnabled: true})
	_, _ = st.PutUser(ctx, calendar.User{Name: "off", RemoteEnabled: false,
		Remote: &calendar.RemoteAccount{Username: "off", SealedPassword: "p"}})

	users, problems, err := NewEligibility(st, logx.Nop()).ListEligibleUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, ok.ID, users[0].ID)

	require.Len(t, problems, 2)
	var cerr *ConfigurationError
	require.True(t, errors.As(problems[0], &cerr))
	assert.Equal(t, noPass.ID, cerr.UserID)
}

type brokenLister struct{ calendar.Reader }

func (brokenLister) ListUsersWithActionEnabled(context.Context) ([]calendar.User, error) {
	return nil, errors.New("db gone")
}

func TestListEligibleUsersStoreError(t *testing.T) {
	_, _, err := NewEligibility(brokenLister{}, logx.Nop()).ListEligibleUsers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
}
