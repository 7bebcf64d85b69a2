package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/DoyleJ11/vantage-connect/internal/protocol"
	"github.com/DoyleJ11/vantage-connect/internal/reconcile"
)

var errQuit = errors.New("quit")

// controller is the part of *session.Session the command loop drives.
type controller interface {
	SetLocation(location string) error
	SetJournal(text string) error
	ChangeDice(delta int) (int, error)
	EndTurn(ctx context.Context) error
	SetViewed(id int) error
	Leave(ctx context.Context) error
}

const help = `commands:
  loc <text>       set your location
  journal <text>   set your journal text
  dice +N | -N     change the shared dice
  end              end your turn
  view <id>        show another player
  leave            leave the session
  quit             exit without leaving`

// execute runs one input line. It returns errQuit when the loop should stop.
func execute(ctx context.Context, s controller, line string, out io.Writer) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return nil
	case "loc":
		return s.SetLocation(arg)
	case "journal":
		return s.SetJournal(arg)
	case "dice":
		delta, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("dice wants +N or -N, got %q", arg)
		}
		v, err := s.ChangeDice(delta)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "dice: %d\n", v)
		return nil
	case "end":
		return s.EndTurn(ctx)
	case "view":
		id, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("view wants a player id, got %q", arg)
		}
		return s.SetViewed(id)
	case "leave":
		if err := s.Leave(ctx); err != nil {
			fmt.Fprintf(out, "left with errors: %v\n", err)
		}
		return errQuit
	case "quit":
		return errQuit
	case "help":
		fmt.Fprintln(out, help)
		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func render(out io.Writer, st reconcile.State, localID int) {
	if !st.Loaded {
		fmt.Fprintln(out, "waiting for session...")
		return
	}
	fmt.Fprintf(out, "dice: %d\n", st.ChallengeDice)
	for _, p := range st.Players {
		marks := ""
		if p.ID == localID {
			marks += " (you)"
		}
		if p.Turn {
			marks += " *turn*"
		}
		cursor := "  "
		if p.ID == st.Viewed {
			cursor = "> "
		}
		fmt.Fprintf(out, "%s#%d %s [%s]%s\n", cursor, p.ID, displayName(p), p.Location, marks)
	}
	for _, p := range st.Players {
		if p.ID == st.Viewed && p.JournalText != "" {
			fmt.Fprintf(out, "journal: %s\n", p.JournalText)
		}
	}
}

func displayName(p protocol.Player) string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("Player %d", p.PlayerNumber)
}
