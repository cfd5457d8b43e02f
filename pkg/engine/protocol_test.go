package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBestMove(t *testing.T) {
	res, err := parseBestMove("bestmove e7e8q ponder d1d8")
	require.NoError(t, err)
	assert.Equal(t, Result{Move: "e7e8q", From: "e7", To: "e8", Promotion: "q", Ponder: "d1d8"}, res)

	res, err = parseBestMove("bestmove a2a4")
	require.NoError(t, err)
	assert.Equal(t, "a2a4", res.Move)
	assert.Empty(t, res.Ponder)

	_, err = parseBestMove("bestmove")
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)

	_, err = parseBestMove("bestmove e2")
	assert.ErrorAs(t, err, &perr)

	_, err = parseBestMove("bestmove 0000")
	assert.ErrorIs(t, err, ErrNoMove)
}

func TestParseInfo(t *testing.T) {
	ev, ok := parseInfo("info depth 20 seldepth 28 multipv 1 score cp -57 nodes 12 nps 3 pv d7d5 e4d5 d8d5")
	require.True(t, ok)
	assert.Equal(t, 20, ev.Depth)
	assert.Equal(t, -57, ev.ScoreCP)
	assert.InDelta(t, -0.57, ev.Score, 1e-9)
	assert.Equal(t, []string{"d7d5", "e4d5", "d8d5"}, ev.PV)

	ev, ok = parseInfo("info depth 9 score mate 3 pv h5f7")
	require.True(t, ok)
	require.NotNil(t, ev.Mate)
	assert.Equal(t, 3, *ev.Mate)
	assert.Equal(t, 100.0, ev.Score)

	ev, ok = parseInfo("info depth 9 score mate -2 pv a1a2")
	require.True(t, ok)
	assert.Equal(t, -100.0, ev.Score)

	ev, ok = parseInfo("info depth 14 score cp 21 lowerbound pv e2e4")
	require.True(t, ok)
	assert.Equal(t, 21, ev.ScoreCP)

	for _, line := range []string{
		"info depth 3 currmove e2e4 currmovenumber 1",
		"info string NNUE evaluation enabled",
		"info depth 4 score wdl 1 2",
		"bestmove e2e4",
	} {
		_, ok := parseInfo(line)
		assert.False(t, ok, line)
	}
}

func TestSANFor(t *testing.T) {
	assert.Equal(t, "e4", sanFor("", "e2e4"))
	assert.Equal(t, "Nf3", sanFor("startpos", "g1f3"))
	assert.Empty(t, sanFor("not a fen", "e2e4"))
	assert.Empty(t, sanFor("", "e2e5"))
}

func TestPositionCommand(t *testing.T) {
	assert.Equal(t, "position startpos", positionCommand(""))
	assert.Equal(t, "position fen "+fenA, positionCommand(fenA))
	assert.True(t, ValidFEN(fenA))
	assert.False(t, ValidFEN("8/8/8"))
}
