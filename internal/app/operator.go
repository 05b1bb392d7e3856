package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"bybit-hedge-bot/internal/alerts"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

const operatorHelp = `commands:
/status - current loop state
/pause  - stop evaluating ticks
/resume - resume evaluating ticks
/close  - flatten both sides at the next tick`

// startOperator runs the Telegram command loop. Commands only flip
// flags read by the tick goroutine; nothing trades from here.
func (a *App) startOperator(ctx context.Context) {
	t := a.cfg.Telegram
	if !t.Enabled || !t.OperatorEnabled || a.alerts == nil {
		return
	}
	go a.operatorLoop(ctx)
}

func (a *App) operatorLoop(ctx context.Context) {
	interval := a.cfg.Telegram.OperatorPollInterval
	offset := a.loadOperatorOffset(ctx)
	for ctx.Err() == nil {
		updates, err := a.alerts.GetUpdates(ctx, offset, interval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Warn("operator poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
			continue
		}
		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			a.handleOperatorUpdate(ctx, update)
		}
		if len(updates) > 0 {
			a.saveOperatorOffset(ctx, offset)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, update alerts.Update) {
	if update.Message == nil {
		return
	}
	if !a.operatorAllowed(update.Message) {
		return
	}
	command := parseOperatorCommand(update.Message.Text)
	if command == "" {
		return
	}
	a.log.Info("operator command", zap.String("command", command))
	switch command {
	case "/status":
		a.notify(ctx, a.statusText())
	case "/pause":
		a.paused.Store(true)
		a.notify(ctx, "paused; ticks are no longer evaluated")
	case "/resume":
		a.paused.Store(false)
		a.notify(ctx, "resumed")
	case "/close":
		a.closeAll.Store(true)
		a.notify(ctx, "closing both sides at the next tick")
	default:
		a.notify(ctx, operatorHelp)
	}
}

// operatorAllowed accepts the configured user ids, or falls back to the
// alert chat id when no user list is configured.
func (a *App) operatorAllowed(message *alerts.Message) bool {
	allowed := a.cfg.Telegram.OperatorAllowedUserIDs
	if len(allowed) > 0 {
		if message.From == nil {
			return false
		}
		for _, id := range allowed {
			if message.From.ID == id {
				return true
			}
		}
		return false
	}
	if message.Chat == nil {
		return false
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		return false
	}
	return message.Chat.ID == chatID
}

// parseOperatorCommand extracts "/cmd" from a message, tolerating the
// "/cmd@botname arg" form Telegram produces in group chats.
func parseOperatorCommand(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return ""
	}
	command := strings.ToLower(fields[0])
	if !strings.HasPrefix(command, "/") {
		return ""
	}
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	return command
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return offset
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	if err := a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10)); err != nil {
		a.log.Warn("operator offset save failed", zap.Error(err))
	}
}
