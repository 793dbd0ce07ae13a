package pool

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/gachamachine/internal/gachaerr"
)

func TestAppendAndFinalize(t *testing.T) {
	r := NewRecord()

	for _, token := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, r.AppendToken([]byte(token)))
	}
	require.Equal(t, 5, r.TokenCount())
	require.Equal(t, 0, r.RemainingCount())

	require.NoError(t, r.Finalize())
	assert.Equal(t, []uint16{0, 1, 2, 3, 4}, r.Remaining())
}

func TestAppendBoundaries(t *testing.T) {
	t.Run("空令牌", func(t *testing.T) {
		r := NewRecord()
		err := r.AppendToken(nil)
		assert.ErrorIs(t, err, gachaerr.ErrEmptyToken)
		assert.Equal(t, 0, r.TokenCount())
	})

	t.Run("超长令牌", func(t *testing.T) {
		r := NewRecord()
		err := r.AppendToken(bytes.Repeat([]byte{'x'}, MaxTokenLen+1))
		assert.ErrorIs(t, err, gachaerr.ErrInvalidTokenLength)
	})

	t.Run("奖池已满", func(t *testing.T) {
		r := NewRecord()
		for i := 0; i < MaxPoolSize; i++ {
			require.NoError(t, r.AppendToken([]byte(fmt.Sprintf("token-%03d", i))))
		}
		err := r.AppendToken([]byte("overflow"))
		assert.ErrorIs(t, err, gachaerr.ErrPoolFull)
		assert.Equal(t, MaxPoolSize, r.TokenCount())
	})
}

func TestFinalizeEmptyPool(t *testing.T) {
	r := NewRecord()
	assert.ErrorIs(t, r.Finalize(), gachaerr.ErrEmptyPool)
}

func TestCapacityGrowth(t *testing.T) {
	r := NewRecord()
	require.Equal(t, uint32(InitialCapacity), r.Capacity())

	// 添加满池的最长令牌，扩容应按固定增量逐步进行且不超过步数上限
	token := bytes.Repeat([]byte{'k'}, MaxTokenLen)
	for i := 0; i < MaxPoolSize; i++ {
		require.NoError(t, r.AppendToken(token))
	}
	assert.LessOrEqual(t, r.GrowSteps(), uint8(MaxGrowSteps))
	assert.Equal(t, uint32(InitialCapacity)+uint32(r.GrowSteps())*GrowIncrement, r.Capacity())
}

func TestDrawRemovesIndexExactlyOnce(t *testing.T) {
	r := NewRecord()
	for i := 0; i < 5; i++ {
		require.NoError(t, r.AppendToken([]byte{byte('a' + i)}))
	}
	require.NoError(t, r.Finalize())

	seen := make(map[uint16]bool)
	randoms := []uint64{12345, 7, 0, 999999, 42}
	for i, rv := range randoms {
		index, token, err := r.Draw(rv)
		require.NoError(t, err, "第%d次抽取", i+1)
		require.False(t, seen[index], "索引%d被重复抽中", index)
		require.Equal(t, []byte{byte('a' + index)}, token)
		seen[index] = true
		assert.Equal(t, 4-i, r.RemainingCount())
	}

	// 抽空后继续抽取
	_, _, err := r.Draw(1)
	assert.ErrorIs(t, err, gachaerr.ErrGachaIsEmpty)
}

func TestMarshalRoundtrip(t *testing.T) {
	r := NewRecord()
	for _, token := range []string{"alpha", "beta", "gamma"} {
		require.NoError(t, r.AppendToken([]byte(token)))
	}
	require.NoError(t, r.Finalize())
	_, _, err := r.Draw(1)
	require.NoError(t, err)
	require.NoError(t, r.SetDecryptionKey([]byte("secret")))

	data, err := r.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, r.TokenCount(), decoded.TokenCount())
	assert.Equal(t, r.Remaining(), decoded.Remaining())
	assert.Equal(t, r.Capacity(), decoded.Capacity())
	assert.Equal(t, r.GrowSteps(), decoded.GrowSteps())
	assert.Equal(t, []byte("secret"), decoded.DecryptionKey())
	for i := 0; i < r.TokenCount(); i++ {
		assert.Equal(t, r.Token(i), decoded.Token(i))
	}
}

func TestUnmarshalRejectsCorruptData(t *testing.T) {
	_, err := Unmarshal([]byte("short"))
	assert.Error(t, err)

	r := NewRecord()
	require.NoError(t, r.AppendToken([]byte("x")))
	data, err := r.Marshal()
	require.NoError(t, err)
	data[0] ^= 0xFF
	_, err = Unmarshal(data)
	assert.Error(t, err)
}
