package bot

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/slh-labs/slh-treasury/pkg/audit"
	"github.com/slh-labs/slh-treasury/pkg/treasury"
	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

const helpText = `Admin commands
/adm_sell <wallet> <ipfs://cid|-> [note] - mint NFT and grant SELA
/adm_events [n] - recent sales
/adm_backup - download the event log as zip`

const (
	defaultEventCount = 10
	maxEventCount     = 50
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	command := msg.Command()
	chatID := msg.Chat.ID

	entry := b.log.WithFields(logrus.Fields{
		"command": command,
		"chat_id": chatID,
	})
	entry.Debug("Bot command received")

	var result string
	switch command {
	case "start":
		b.reply(chatID, "Hello! Bot is up. Try /ping or /adm_help")
		result = "ok"
	case "ping":
		b.reply(chatID, "pong")
		result = "ok"
	case "adm_help":
		b.reply(chatID, helpText)
		result = "ok"
	case "adm_events":
		result = b.cmdEvents(ctx, chatID, msg.CommandArguments())
	case "adm_sell", "adm_backup":
		if !b.allow(chatID) {
			b.reply(chatID, "Too many requests, try again in a minute.")
			result = "rate_limited"
			break
		}
		if command == "adm_sell" {
			result = b.cmdSell(ctx, chatID, actor(msg), msg.CommandArguments())
		} else {
			result = b.cmdBackup(ctx, chatID)
		}
	default:
		return
	}

	b.observe(command, result)
	entry.WithField("result", result).Info("Bot command handled")
}

func (b *Bot) cmdSell(ctx context.Context, chatID int64, actor, arguments string) string {
	args := strings.Fields(arguments)
	if len(args) < 2 {
		b.reply(chatID, "Usage: /adm_sell <wallet> <ipfs://CID|-> [note]")
		return "usage"
	}

	uri := args[1]
	if uri == "-" {
		if b.config.DefaultMetaCID == "" {
			b.reply(chatID, "DEFAULT_META_CID is not configured; pass an explicit ipfs:// uri.")
			return "usage"
		}
		uri = "ipfs://" + b.config.DefaultMetaCID
	}

	req := treasury.SellRequest{
		Wallet:   args[0],
		TokenURI: uri,
		Amount:   b.config.RewardAmount,
		Note:     strings.Join(args[2:], " "),
		Actor:    actor,
	}

	b.reply(chatID, "Processing sale for "+req.Wallet+" ...")

	// shutdown waits for the sale instead of abandoning it mid-retry
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.config.OperationTimeout)
	defer cancel()

	res := b.seller.Sell(opCtx, req)
	b.reply(chatID, FormatSell(res))

	switch {
	case res.OK():
		return "ok"
	case res.Partial():
		return "partial"
	default:
		return "failed"
	}
}

func (b *Bot) cmdEvents(ctx context.Context, chatID int64, arguments string) string {
	n := defaultEventCount
	if a := strings.TrimSpace(arguments); a != "" {
		v, err := strconv.Atoi(a)
		if err != nil || v < 1 {
			b.reply(chatID, "Usage: /adm_events [n]")
			return "usage"
		}
		n = min(v, maxEventCount)
	}
	if b.events == nil {
		b.reply(chatID, "Event log is not available.")
		return "failed"
	}

	events, err := b.events.Events(ctx, n)
	if err != nil {
		b.reply(chatID, "Could not read events: "+describeError(err))
		return "failed"
	}
	b.reply(chatID, FormatEvents(events))
	return "ok"
}

func (b *Bot) cmdBackup(ctx context.Context, chatID int64) string {
	if b.events == nil {
		b.reply(chatID, "Event log is not available.")
		return "failed"
	}

	events, err := b.events.Events(ctx, 0)
	if err != nil {
		b.reply(chatID, "Could not read events: "+describeError(err))
		return "failed"
	}

	var buf bytes.Buffer
	now := time.Now().UTC()
	if err := audit.WriteZip(&buf, events, now); err != nil {
		b.log.WithError(err).Error("Failed to build backup archive")
		b.reply(chatID, "Backup failed.")
		return "failed"
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("slh_events_%s.zip", now.Format("20060102_150405")),
		Bytes: buf.Bytes(),
	})
	doc.Caption = fmt.Sprintf("SLH event log backup (%d events)", len(events))
	if _, err := b.api.Send(doc); err != nil {
		b.log.WithError(err).Warn("Failed to send backup")
		return "failed"
	}
	return "ok"
}

// FormatSell renders a sale result for the operator.
func FormatSell(res *treasury.SellResult) string {
	if res.MintErr != nil {
		return "Mint failed: " + describeError(res.MintErr)
	}

	var sb strings.Builder
	sb.WriteString("Mint TX: " + res.Mint.TxHash.Hex() + "\n")
	if res.Mint.TokenIDFound {
		sb.WriteString("Token ID: " + res.Mint.TokenID.String() + "\n")
	}
	if res.GrantErr != nil {
		sb.WriteString("SELA grant failed: " + describeError(res.GrantErr))
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("SELA TX: %s (%s)", res.Grant.TxHash.Hex(), res.Grant.Amount))
	return sb.String()
}

// FormatEvents renders events one per line, newest first.
func FormatEvents(events []audit.Event) string {
	if len(events) == 0 {
		return "No events yet."
	}

	var sb strings.Builder
	for i, e := range events {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(e.Timestamp.Format(time.RFC3339) + " " + e.Wallet)
		if e.MintTx != "" {
			sb.WriteString(" mint=" + e.MintTx)
		}
		if e.GrantTx != "" {
			sb.WriteString(" grant=" + e.GrantTx)
		}
		if e.Note != "" {
			sb.WriteString(" (" + e.Note + ")")
		}
	}
	return sb.String()
}

// describeError gives the error kind and, when something was broadcast, the
// hash the operator should look up.
func describeError(err error) string {
	we, ok := wallet.AsWalletError(err)
	if !ok {
		return err.Error()
	}
	s := we.Code + " " + we.Message
	if we.HasHash() {
		s += " (last tx " + we.LastHash.Hex() + ")"
	}
	return s
}

func actor(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return "telegram"
	}
	if msg.From.UserName != "" {
		return "tg:@" + msg.From.UserName
	}
	return "tg:" + strconv.FormatInt(msg.From.ID, 10)
}
