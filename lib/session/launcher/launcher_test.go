package launcher

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/ValentinKolb/dProxy/lib/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	key := session.Key{AppCode: "demo", Pid: 4711}

	tests := []struct {
		name     string
		command  string
		expected []string
		wantErr  bool
	}{
		{
			name:     "Placeholders",
			command:  "attach.sh --pid {pid} --port {port} --app {app}",
			expected: []string{"attach.sh", "--pid", "4711", "--port", "43210", "--app", "demo"},
		},
		{
			name:     "Quoted",
			command:  `java -jar "/opt/diag tools/attach.jar" '{pid}' --telnet-port={port}`,
			expected: []string{"java", "-jar", "/opt/diag tools/attach.jar", "4711", "--telnet-port=43210"},
		},
		{
			name:     "Empty",
			command:  "",
			expected: []string{},
		},
		{
			name:    "Unterminated",
			command: `attach.sh "{pid}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := New(tt.command, 0).Args(key, 43210)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.expected, args)
		})
	}

	assert.Equal(t, DefaultTimeout, New("x", 0).Timeout)
}

func TestStart(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	key := session.Key{AppCode: "demo", Pid: 1}

	t.Run("NoCommand", func(t *testing.T) {
		assert.ErrorIs(t, New("", 0).Start(context.Background(), key, 1), ErrNoCommand)
	})

	t.Run("Success", func(t *testing.T) {
		require.NoError(t, New("sh -c true", time.Second).Start(context.Background(), key, 1))
	})

	t.Run("Failure", func(t *testing.T) {
		err := New("sh -c false", time.Second).Start(context.Background(), key, 1)
		require.Error(t, err)
		var exitErr *exec.ExitError
		assert.ErrorAs(t, err, &exitErr)
	})

	t.Run("Timeout", func(t *testing.T) {
		err := New("sleep 5", 50*time.Millisecond).Start(context.Background(), key, 1)
		assert.Error(t, err)
	})
}
