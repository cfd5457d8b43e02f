package game

import (
	"fmt"

	"github.com/notnil/chess"

	"github.com/tecu23/duel-server/internal/color"
)

// Move is the move data relayed between seats, in coordinate notation
type Move struct {
	From      string
	To        string
	Promotion string
}

// UCI returns the move in four-or-five character coordinate notation
func (m Move) UCI() string {
	return m.From + m.To + m.Promotion
}

// Verdict is what the rules oracle says about the position after a move
type Verdict struct {
	Over   bool
	Winner color.Color // empty for draws
	Reason string
}

// RulesOracle validates moves and detects terminal positions. The session
// treats it as the authority on legality; it only owns turns and time.
type RulesOracle interface {
	Apply(move Move) (Verdict, error)
}

// ChessOracle is a RulesOracle backed by notnil/chess
type ChessOracle struct {
	game *chess.Game
}

// NewChessOracle creates an oracle on the standard starting position
func NewChessOracle() *ChessOracle {
	return &ChessOracle{game: chess.NewGame()}
}

// newChessOracleFromFEN creates an oracle on an arbitrary position
func newChessOracleFromFEN(fen string) (*ChessOracle, error) {
	fenFunc, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid FEN: %w", err)
	}

	return &ChessOracle{game: chess.NewGame(fenFunc)}, nil
}

// Apply plays the move if it is legal in the current position
func (o *ChessOracle) Apply(m Move) (Verdict, error) {
	validMove := o.find(m.From, m.To, parsePromotion(m.Promotion))

	// Clients may attach a promotion piece to every move; ignore it when
	// the move is not a promotion.
	if validMove == nil && m.Promotion != "" {
		validMove = o.find(m.From, m.To, chess.NoPieceType)
	}

	if validMove == nil {
		return Verdict{}, fmt.Errorf("%w: %s", ErrIllegalMove, m.UCI())
	}

	if err := o.game.Move(validMove); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}

	return verdictFor(o.game), nil
}

// fen returns the current position
func (o *ChessOracle) fen() string {
	return o.game.Position().String()
}

func (o *ChessOracle) find(from, to string, promo chess.PieceType) *chess.Move {
	for _, vm := range o.game.ValidMoves() {
		if vm.S1().String() == from && vm.S2().String() == to && vm.Promo() == promo {
			return vm
		}
	}

	return nil
}

func verdictFor(g *chess.Game) Verdict {
	var winner color.Color

	switch g.Outcome() {
	case chess.NoOutcome:
		return Verdict{}
	case chess.WhiteWon:
		winner = color.White
	case chess.BlackWon:
		winner = color.Black
	}

	var reason string
	switch g.Method() {
	case chess.Checkmate:
		reason = "Checkmate. " + winner.Name() + " wins!"
	case chess.Stalemate:
		reason = "Draw by stalemate"
	case chess.ThreefoldRepetition, chess.FivefoldRepetition:
		reason = "Draw by repetition"
	case chess.FiftyMoveRule, chess.SeventyFiveMoveRule:
		reason = "Draw by the move rule"
	case chess.InsufficientMaterial:
		reason = "Draw by insufficient material"
	default:
		reason = "Game over"
	}

	return Verdict{Over: true, Winner: winner, Reason: reason}
}

func parsePromotion(p string) chess.PieceType {
	switch p {
	case "q":
		return chess.Queen
	case "r":
		return chess.Rook
	case "b":
		return chess.Bishop
	case "n":
		return chess.Knight
	default:
		return chess.NoPieceType
	}
}
