package codec

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		dg   *common.Datagram
	}{
		{"EmptyBody", common.NewRequest(common.CodePidConfigInfoFetch, 7, nil)},
		{"WithBody", common.NewResponse(common.CodeRespContent, 1<<40, []byte("hello agent"))},
		{"NegativeCode", common.NewRequest(common.CodeRespException, 3, []byte{0, 1, 2})},
	}

	withProps := common.NewRequest(common.CodePidConfigInfoFetch, 9, nil)
	withProps.SetProperty(common.PropAgentIP, "10.0.0.7")
	withProps.SetProperty(common.PropAppCode, "demo")
	tests = append(tests, struct {
		name string
		dg   *common.Datagram
	}{"Properties", withProps})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, tt.dg))

			got, err := ReadFrame(&buf, 0)
			require.NoError(t, err)
			defer got.Release()

			assert.Equal(t, tt.dg.Header.MagicCode, got.Header.MagicCode)
			assert.Equal(t, tt.dg.Header.Version, got.Header.Version)
			assert.Equal(t, tt.dg.Header.ID, got.Header.ID)
			assert.Equal(t, tt.dg.Header.Flag, got.Header.Flag)
			assert.Equal(t, tt.dg.Header.Code, got.Header.Code)
			assert.Equal(t, len(tt.dg.Header.Properties), len(got.Header.Properties))
			for k, v := range tt.dg.Header.Properties {
				assert.Equal(t, v, got.Header.Properties[k])
			}
			assert.Equal(t, len(tt.dg.Body), len(got.Body))
			if len(tt.dg.Body) > 0 {
				assert.Equal(t, tt.dg.Body, got.Body)
			}
			assert.Zero(t, buf.Len(), "frame fully consumed")
		})
	}
}

func TestReadFrameErrors(t *testing.T) {
	t.Run("BadMagic", func(t *testing.T) {
		var buf bytes.Buffer
		dg := common.NewRequest(common.CodeHeartbeat, 1, nil)
		dg.Header.MagicCode = 0x1234
		require.NoError(t, WriteFrame(&buf, dg))

		_, err := ReadFrame(&buf, 0)
		assert.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("TooLarge", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, common.NewRequest(common.CodeHeartbeat, 1, make([]byte, 128))))

		_, err := ReadFrame(&buf, 64)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("Truncated", func(t *testing.T) {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], 5)
		buf := bytes.NewBuffer(append(prefix[:], 0xbc, 0xbc, 0, 0, 0))

		_, err := ReadFrame(buf, 0)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestReleaseReturnsBuffer(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, common.NewRequest(common.CodeHeartbeat, 1, []byte("x"))))

	before := common.OutstandingBuffers()
	dg, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, before+1, common.OutstandingBuffers())

	dg.Release()
	dg.Release()
	assert.Equal(t, before, common.OutstandingBuffers(), "double release returns the buffer once")
	assert.True(t, dg.Released())
}
