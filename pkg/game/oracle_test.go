package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tecu23/duel-server/internal/color"
)

func TestOracleAcceptsLegalMoves(t *testing.T) {
	o := NewChessOracle()

	v, err := o.Apply(Move{From: "e2", To: "e4"})
	require.NoError(t, err)
	assert.False(t, v.Over)

	// a stray promotion piece on a normal move is tolerated
	_, err = o.Apply(Move{From: "e7", To: "e5", Promotion: "q"})
	require.NoError(t, err)

	assert.Contains(t, o.fen(), "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq")
}

func TestOracleRejectsIllegalMoves(t *testing.T) {
	o := NewChessOracle()

	_, err := o.Apply(Move{From: "e2", To: "e5"})
	assert.ErrorIs(t, err, ErrIllegalMove)

	_, err = o.Apply(Move{From: "e7", To: "e5"})
	assert.ErrorIs(t, err, ErrIllegalMove)
}

func TestOracleDetectsCheckmate(t *testing.T) {
	o := NewChessOracle()

	for _, m := range []Move{
		{From: "f2", To: "f3"},
		{From: "e7", To: "e5"},
		{From: "g2", To: "g4"},
	} {
		v, err := o.Apply(m)
		require.NoError(t, err)
		require.False(t, v.Over)
	}

	v, err := o.Apply(Move{From: "d8", To: "h4"})
	require.NoError(t, err)
	assert.Equal(t, Verdict{Over: true, Winner: color.Black, Reason: "Checkmate. Black wins!"}, v)
}

func TestOracleFromFENPromotes(t *testing.T) {
	o, err := newChessOracleFromFEN("8/P7/8/8/8/8/8/k6K w - - 0 1")
	require.NoError(t, err)

	_, err = o.Apply(Move{From: "a7", To: "a8", Promotion: "n"})
	require.NoError(t, err)
	assert.Contains(t, o.fen(), "N7/")

	_, err = newChessOracleFromFEN("not a fen")
	assert.Error(t, err)
}
