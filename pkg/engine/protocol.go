package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/notnil/chess"
)

var (
	ErrResourceUnavailable = errors.New("engine unavailable")
	ErrEngineExited        = errors.New("engine process exited")
	ErrClosed              = errors.New("engine serializer closed")
	ErrNoMove              = errors.New("engine has no legal move")
)

// mateScore stands in for a forced mate when a single score is needed
const mateScore = 100.0

var moveRe = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

// ParseError reports an engine line that could not be understood
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("engine: cannot parse %q: %s", e.Line, e.Reason)
}

// Result is the engine's answer to one discrete request
type Result struct {
	Move      string // coordinate notation, e.g. "e7e8q"
	From      string
	To        string
	Promotion string
	Ponder    string
	SAN       string // empty when the request position could not be parsed
}

// Evaluation is one update of an analysis stream
type Evaluation struct {
	Depth   int
	ScoreCP int
	Mate    *int
	Score   float64 // pawns from the side to move; ±100 for a forced mate
	PV      []string
}

// parseBestMove parses "bestmove <move> [ponder <move>]"
func parseBestMove(line string) (Result, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "bestmove" {
		return Result{}, &ParseError{Line: line, Reason: "missing move"}
	}

	move := fields[1]
	if move == "(none)" || move == "0000" {
		return Result{}, ErrNoMove
	}

	if !moveRe.MatchString(move) {
		return Result{}, &ParseError{Line: line, Reason: "malformed move"}
	}

	res := Result{
		Move: move,
		From: move[0:2],
		To:   move[2:4],
	}
	if len(move) == 5 {
		res.Promotion = move[4:]
	}

	if len(fields) >= 4 && fields[2] == "ponder" && moveRe.MatchString(fields[3]) {
		res.Ponder = fields[3]
	}

	return res, nil
}

// parseInfo extracts an evaluation from an "info" line. Lines without a
// score (currmove, nps, string ...) report false.
func parseInfo(line string) (Evaluation, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "info" {
		return Evaluation{}, false
	}

	var (
		ev       Evaluation
		hasScore bool
	)

	for i := 1; i < len(fields); i++ {
		switch fields[i] {
		case "depth":
			if i+1 < len(fields) {
				if d, err := strconv.Atoi(fields[i+1]); err == nil {
					ev.Depth = d
				}
				i++
			}

		case "score":
			if i+2 >= len(fields) {
				return Evaluation{}, false
			}

			n, err := strconv.Atoi(fields[i+2])
			if err != nil {
				return Evaluation{}, false
			}

			switch fields[i+1] {
			case "cp":
				ev.ScoreCP = n
				ev.Score = float64(n) / 100
			case "mate":
				mate := n
				ev.Mate = &mate
				if n > 0 {
					ev.Score = mateScore
				} else {
					ev.Score = -mateScore
				}
			default:
				return Evaluation{}, false
			}

			hasScore = true
			i += 2

		case "pv":
			ev.PV = append([]string(nil), fields[i+1:]...)
			i = len(fields)
		}
	}

	return ev, hasScore
}

// positionCommand builds the UCI position command for a FEN
func positionCommand(fen string) string {
	if fen == "" || fen == "startpos" {
		return "position startpos"
	}

	return "position fen " + fen
}

// sanFor renders a coordinate move in standard algebraic notation, or "" when
// the position does not parse or the move is not legal in it.
func sanFor(fen, move string) string {
	game := chess.NewGame()
	if fen != "" && fen != "startpos" {
		fenFunc, err := chess.FEN(fen)
		if err != nil {
			return ""
		}
		game = chess.NewGame(fenFunc)
	}

	pos := game.Position()
	for _, m := range game.ValidMoves() {
		if m.String() == move {
			return chess.AlgebraicNotation{}.Encode(pos, m)
		}
	}

	return ""
}

// ValidFEN reports whether fen describes a position the rules library accepts
func ValidFEN(fen string) bool {
	if fen == "" || fen == "startpos" {
		return true
	}

	_, err := chess.FEN(fen)
	return err == nil
}
