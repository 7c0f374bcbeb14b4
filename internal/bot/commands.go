package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"cuebot/internal/engine"
	"cuebot/internal/schedule"
	"cuebot/internal/task"
	kit "cuebot/internal/transport"
	logx "cuebot/pkg/logx"
)

const helpText = `I turn plain requests into scheduled tasks.

/remind <when + what>    notification task ("remind me every day at 9am to stretch")
/schedule <when + what>  agent task (the text is run by the agent when due)
/tasks                   list your tasks
/pause <id>              pause a task
/resume <id>             resume a paused task
/cancel <id>             cancel a task (kept for audit)
/delete <id>             delete a task and its history
/runs <id>               recent run history
/help                    this message

Plain text without a command is treated like /remind.`

func (r *Router) handleMessage(ctx context.Context, msg kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if !r.allowed(msg.FromID) {
		// Stay silent in groups; a short refusal in private chat.
		if !msg.IsGroup {
			r.reply(ctx, msg, "Sorry, this bot is private.")
		}
		return
	}

	if !strings.HasPrefix(text, "/") {
		r.createTask(ctx, msg, text, task.ActionNotification)
		return
	}

	cmd, rest := splitCommand(text)
	switch cmd {
	case "start", "help":
		r.reply(ctx, msg, helpText)
	case "remind":
		r.createTask(ctx, msg, rest, task.ActionNotification)
	case "schedule":
		r.createTask(ctx, msg, rest, task.ActionAgentRun)
	case "tasks":
		r.cmdTasks(ctx, msg)
	case "pause":
		r.cmdLifecycle(ctx, msg, rest, "paused", r.eng.Pause)
	case "resume":
		r.cmdLifecycle(ctx, msg, rest, "resumed", r.eng.Resume)
	case "cancel":
		r.cmdLifecycle(ctx, msg, rest, "cancelled", r.eng.Cancel)
	case "delete":
		r.cmdDelete(ctx, msg, rest)
	case "runs":
		r.cmdRuns(ctx, msg, rest)
	default:
		r.reply(ctx, msg, "Unknown command. Try /help.")
	}
}

// splitCommand separates "/cmd@BotName args" into ("cmd", "args").
func splitCommand(text string) (string, string) {
	rest := ""
	head := text
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		head, rest = text[:i], strings.TrimSpace(text[i:])
	}
	head = strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	return strings.ToLower(head), rest
}

func (r *Router) createTask(ctx context.Context, msg kit.Message, text string, kind task.ActionKind) {
	text = strings.TrimSpace(text)
	if text == "" {
		r.reply(ctx, msg, "Tell me when and what, e.g. \"every day at 9am stretch\".")
		return
	}

	now := time.Now()
	parsed := schedule.Parse(text, now, time.Local)

	if !parsed.Usable() {
		parsed = r.tryFallback(ctx, text, now, parsed)
	}
	if !parsed.Usable() {
		r.reply(ctx, msg, "I couldn't find a schedule in that. Try something like \"every monday at 10am\" or \"tomorrow 8pm\".")
		return
	}

	owner := strconv.FormatInt(msg.FromID, 10)
	t := task.Task{
		OwnerID:    owner,
		RawText:    text,
		Action:     parsed.Action,
		Recurrence: parsed.Recurrence,
		ActionKind: kind,
	}
	if kind == task.ActionNotification {
		t.NotifyChannel = "telegram"
		t.NotifyDestination = strconv.FormatInt(msg.ChatID, 10)
	}

	created, err := r.eng.Create(ctx, t)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidSchedule):
			r.reply(ctx, msg, "That time is already in the past.")
		case errors.Is(err, engine.ErrNotReady):
			r.reply(ctx, msg, "Still starting up, try again in a moment.")
		default:
			r.log.Warn("task create failed", logx.String("owner", owner), logx.Err(err))
			r.reply(ctx, msg, "Something went wrong saving that task.")
		}
		return
	}

	r.reply(ctx, msg, formatCreated(created, parsed))
}

func (r *Router) tryFallback(ctx context.Context, text string, now time.Time, parsed schedule.Parsed) schedule.Parsed {
	cfg := r.config()
	if !cfg.FallbackEnabled || r.fallback == nil {
		return parsed
	}
	timeout := cfg.FallbackTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fb, err := r.fallback.ParseFallback(fctx, text, now)
	if err != nil {
		r.log.Debug("fallback parse failed", logx.Err(err))
		return parsed
	}
	if fb.Usable() {
		return fb
	}
	return parsed
}

func (r *Router) cmdTasks(ctx context.Context, msg kit.Message) {
	owner := strconv.FormatInt(msg.FromID, 10)
	tasks, err := r.eng.List(ctx, owner)
	if err != nil {
		r.log.Warn("task list failed", logx.String("owner", owner), logx.Err(err))
		r.reply(ctx, msg, "Couldn't load your tasks.")
		return
	}
	r.reply(ctx, msg, formatTaskList(tasks))
}

type lifecycleOp func(ctx context.Context, ownerID, id string) (task.Task, error)

func (r *Router) cmdLifecycle(ctx context.Context, msg kit.Message, arg, verb string, op lifecycleOp) {
	owner := strconv.FormatInt(msg.FromID, 10)
	id, err := r.resolveID(ctx, owner, arg)
	if err != nil {
		r.reply(ctx, msg, err.Error())
		return
	}
	t, err := op(ctx, owner, id)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotFound):
			r.reply(ctx, msg, "No such task.")
		case errors.Is(err, engine.ErrTerminal):
			r.reply(ctx, msg, "That task is already finished.")
		default:
			r.log.Warn("lifecycle op failed", logx.String("task_id", id), logx.Err(err))
			r.reply(ctx, msg, "Something went wrong.")
		}
		return
	}
	reply := "Task " + shortID(t.ID) + " " + verb + "."
	// A paused task keeps its stored next fire, but quoting it back would
	// read like a promise to fire.
	if t.Status == task.StatusActive {
		reply += nextFireLine(t)
	}
	r.reply(ctx, msg, reply)
}

func (r *Router) cmdDelete(ctx context.Context, msg kit.Message, arg string) {
	owner := strconv.FormatInt(msg.FromID, 10)
	id, err := r.resolveID(ctx, owner, arg)
	if err != nil {
		r.reply(ctx, msg, err.Error())
		return
	}
	if err := r.eng.Delete(ctx, owner, id); err != nil {
		r.log.Warn("task delete failed", logx.String("task_id", id), logx.Err(err))
		r.reply(ctx, msg, "Something went wrong.")
		return
	}
	r.reply(ctx, msg, "Task "+shortID(id)+" deleted.")
}

func (r *Router) cmdRuns(ctx context.Context, msg kit.Message, arg string) {
	owner := strconv.FormatInt(msg.FromID, 10)
	id, err := r.resolveID(ctx, owner, arg)
	if err != nil {
		r.reply(ctx, msg, err.Error())
		return
	}
	runs, err := r.eng.Runs(ctx, owner, id, 10)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			r.reply(ctx, msg, "No such task.")
			return
		}
		r.log.Warn("runs list failed", logx.String("task_id", id), logx.Err(err))
		r.reply(ctx, msg, "Couldn't load run history.")
		return
	}
	r.reply(ctx, msg, formatRuns(id, runs))
}

// resolveID accepts a full task id or a unique short prefix as shown in /tasks.
func (r *Router) resolveID(ctx context.Context, owner, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errors.New("Give me a task id, see /tasks.")
	}
	tasks, err := r.eng.List(ctx, owner)
	if err != nil {
		return "", errors.New("Couldn't load your tasks.")
	}
	var match string
	for _, t := range tasks {
		if t.ID == arg {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, arg) {
			if match != "" {
				return "", errors.New("That id prefix is ambiguous, use more characters.")
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", errors.New("No such task.")
	}
	return match, nil
}
