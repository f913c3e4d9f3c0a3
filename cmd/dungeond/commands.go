package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/hero-dungeon/dungeond/internal/core/application"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// flags
var (
	yesFlag = &cli.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "approve transactions without prompting",
	}
	noWaitFlag = &cli.BoolFlag{
		Name:  "no-wait",
		Usage: "return once the entry is confirmed, without waiting for the outcome",
	}
	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "max number of attempts to show",
		Value: 20,
	}
)

// commands
var (
	heroCommand = cli.Command{
		Name:   "hero",
		Usage:  "Show the hero owned by the configured account",
		Action: heroAction,
	}
	mintCommand = cli.Command{
		Name:   "mint",
		Usage:  "Mint a new hero",
		Action: mintAction,
		Flags:  []cli.Flag{yesFlag},
	}
	marketCommand = cli.Command{
		Name:   "market",
		Usage:  "Show the current market state",
		Action: marketAction,
	}
	quoteCommand = cli.Command{
		Name:   "quote",
		Usage:  "Preview the fee of a dungeon entry with fresh oracle prices",
		Action: quoteAction,
	}
	enterCommand = cli.Command{
		Name:   "enter",
		Usage:  "Enter the dungeon with the tracked hero and wait for the outcome",
		Action: enterAction,
		Flags:  []cli.Flag{yesFlag, noWaitFlag},
	}
	attemptsCommand = cli.Command{
		Name:   "attempts",
		Usage:  "List the most recent dungeon attempts",
		Action: attemptsAction,
		Flags:  []cli.Flag{limitFlag},
	}
	configCommand = cli.Command{
		Name:   "config",
		Usage:  "Show the loaded configuration",
		Action: configAction,
	}
)

func heroAction(ctx *cli.Context) error {
	return withService(ctx, false, func(c context.Context, svc application.Service) error {
		hero, err := svc.GetHeroStatus(c)
		if err != nil {
			return err
		}
		return printJSON(heroInfo(*hero))
	})
}

func mintAction(ctx *cli.Context) error {
	return withService(ctx, true, func(c context.Context, svc application.Service) error {
		hero, err := svc.MintHero(c)
		if err != nil {
			return err
		}
		return printJSON(heroInfo(*hero))
	})
}

func marketAction(ctx *cli.Context) error {
	return withService(ctx, false, func(c context.Context, svc application.Service) error {
		state := svc.GetMarketState(c)
		return printJSON(map[string]interface{}{
			"state": uint8(state),
			"name":  state.String(),
		})
	})
}

func quoteAction(ctx *cli.Context) error {
	return withService(ctx, false, func(c context.Context, svc application.Service) error {
		quote, err := svc.QuoteFee(c)
		if err != nil {
			return err
		}
		return printJSON(quote)
	})
}

func enterAction(ctx *cli.Context) error {
	return withService(ctx, true, func(c context.Context, svc application.Service) error {
		sessionId, err := svc.EnterDungeon(c)
		if err != nil {
			return fmt.Errorf("%s: %w", domain.ErrorKind(err), err)
		}
		if ctx.Bool(noWaitFlag.Name) {
			return printJSON(svc.GetStatus())
		}

		fmt.Fprintln(os.Stderr, "entry confirmed, waiting for the dungeon outcome...")
		attempt, err := svc.AwaitSession(c, sessionId)
		if err != nil {
			return err
		}
		return printJSON(attempt)
	})
}

func attemptsAction(ctx *cli.Context) error {
	limit := ctx.Int(limitFlag.Name)
	if limit <= 0 {
		return fmt.Errorf("invalid limit, must be positive")
	}
	return withService(ctx, false, func(c context.Context, svc application.Service) error {
		attempts, err := svc.ListAttempts(c, limit)
		if err != nil {
			return err
		}
		return printJSON(attempts)
	})
}

func configAction(_ *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Println(cfg.String())
	return nil
}

// withService builds and starts the app service for one-shot commands.
// Transactions are confirmed on the terminal unless --yes is given.
func withService(
	ctx *cli.Context, sends bool,
	fn func(context.Context, application.Service) error,
) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sends && !ctx.Bool(yesFlag.Name) {
		cfg.SignerConfirm = confirmOnTerminal
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	svc, err := cfg.AppService()
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}
	defer svc.Stop()

	c, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fn(c, svc)
}

func confirmOnTerminal(_ context.Context, tx *types.Transaction) (bool, error) {
	fmt.Fprintf(
		os.Stderr,
		"about to send tx to %s\n  value:       %s ETH\n  gas limit:   %d\n  max fee/gas: %s gwei\n"+
			"confirm? [y/N] ",
		tx.To().Hex(), weiToUnit(tx.Value(), params.Ether), tx.Gas(),
		weiToUnit(tx.GasFeeCap(), params.GWei),
	)

	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		log.WithError(err).Debug("failed to read confirmation")
		return false, nil
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func heroInfo(hero domain.HeroStatus) map[string]interface{} {
	info := map[string]interface{}{
		"owner":   hero.Owner.Hex(),
		"hasHero": hero.HasHero(),
	}
	if hero.Balance != nil {
		info["balance"] = hero.Balance.String()
	}
	if hero.HeroId != nil {
		info["heroId"] = hero.HeroId.String()
	}
	return info
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}

	fmt.Println(string(jsonBytes))
	return nil
}
