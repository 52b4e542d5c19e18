package main

import (
	"avatalk/audio"
	"avatalk/models"
	"errors"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

var (
	app           *tview.Application
	pages         *tview.Pages
	textArea      *tview.TextArea
	textView      *tview.TextView
	position      *tview.TextView
	helpView      *tview.TextView
	flex          *tview.Flex
	chatActModal  *tview.Modal
	focusSwitcher = map[tview.Primitive]tview.Primitive{}
	chatOpts      = []string{"cancel", "new"}
	helpText      = `
[yellow]Esc[white]: send msg
[yellow]PgUp/Down[white]: switch focus
[yellow]F1[white]: manage chats
[yellow]F2[white]: start avatar session
[yellow]F3[white]: end avatar session
[yellow]F4[white]: interrupt avatar
%s[yellow]F6[white]: toggle local tts
[yellow]F7[white]: toggle system msgs

Press Enter to go back
`
	recordHelp = "[yellow]F5[white]: start/stop recording\n"
)

func updateStatusLine() {
	position.SetText(makeStatusLine(bot))
}

func refreshChatDisplay() {
	textView.SetText(chatToText(bot.Messages(), cfg.ShowSys))
	textView.ScrollToEnd()
}

// notify reports a failure in the status line and, when available, the desktop.
func notify(topic string, err error) {
	logger.Warn(topic, "error", err)
	if nerr := notifyUser(topic, err.Error()); nerr != nil {
		logger.Debug("failed to notify user", "error", nerr)
	}
}

func initTUI() {
	if theme, ok := colorschemes[cfg.Colorscheme]; ok {
		tview.Styles = theme
	} else {
		tview.Styles = colorschemes["default"]
	}
	app = tview.NewApplication()
	pages = tview.NewPages()
	textArea = tview.NewTextArea().
		SetPlaceholder("Type your message...")
	textArea.SetBorder(true).SetTitle("input")
	textView = tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(true).
		SetChangedFunc(func() {
			app.Draw()
		})
	textView.SetBorder(true).SetTitle("chat")
	focusSwitcher[textArea] = textView
	focusSwitcher[textView] = textArea
	position = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(textView, 0, 40, false).
		AddItem(textArea, 0, 10, true).
		AddItem(position, 0, 2, false)
	bot.OnUpdate = func() {
		app.QueueUpdateDraw(refreshChatDisplay)
	}
	chatActModal = tview.NewModal().
		SetText("Chat actions:").
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			defer pages.RemovePage("history")
			switch buttonLabel {
			case "cancel", "":
				return
			case "new":
				if err := bot.newChat(); err != nil {
					notify("chat", err)
					return
				}
			default:
				if err := bot.switchChat(buttonLabel); err != nil {
					logger.Error("failed to load chat", "chat", buttonLabel, "error", err)
					return
				}
			}
			refreshChatDisplay()
			updateStatusLine()
		})
	recordKeys := ""
	if bot.RecordingEnabled() {
		recordKeys = recordHelp
	}
	helpView = tview.NewTextView().SetDynamicColors(true).
		SetText(fmt.Sprintf(helpText, recordKeys)).
		SetDoneFunc(func(key tcell.Key) {
			pages.RemovePage("helpView")
		})
	textArea.SetMovedFunc(updateStatusLine)
	updateStatusLine()
	refreshChatDisplay()
	go watchStatus()
	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			chatList, err := bot.chatNames()
			if err != nil {
				logger.Error("failed to load chat history", "error", err)
				return nil
			}
			chatActModal.ClearButtons()
			chatActModal.AddButtons(append(append([]string{}, chatOpts...), chatList...))
			pages.AddPage("history", chatActModal, true, true)
			return nil
		case tcell.KeyF2:
			go func() {
				if _, err := bot.StartAvatar(ctx, "", ""); err != nil {
					notify("avatar session", err)
				}
				app.QueueUpdateDraw(updateStatusLine)
			}()
			return nil
		case tcell.KeyF3:
			go func() {
				if err := bot.avatar.EndSession(ctx); err != nil {
					notify("avatar session", err)
				}
				app.QueueUpdateDraw(updateStatusLine)
			}()
			return nil
		case tcell.KeyF4:
			go func() {
				_ = bot.StopSpeaking(ctx)
				app.QueueUpdateDraw(updateStatusLine)
			}()
			return nil
		case tcell.KeyF5:
			if !bot.RecordingEnabled() {
				return nil
			}
			toggleRecording()
			return nil
		case tcell.KeyF6:
			bot.ToggleTTS()
			updateStatusLine()
			return nil
		case tcell.KeyF7:
			cfg.ShowSys = !cfg.ShowSys
			refreshChatDisplay()
			return nil
		case tcell.KeyF12:
			pages.AddPage("helpView", helpView, true, true)
			return nil
		case tcell.KeyPgUp, tcell.KeyPgDn:
			app.SetFocus(focusSwitcher[app.GetFocus()])
			return nil
		case tcell.KeyEscape:
			if name, _ := pages.GetFrontPage(); name != "main" {
				return event
			}
			// cannot send while the previous turn is in flight
			if bot.Busy() {
				return nil
			}
			msgText := textArea.GetText()
			if msgText == "" {
				return nil
			}
			fmt.Fprintf(textView, "\n(%d) <%s>: %s\n", len(bot.Messages()), cfg.UserRole, msgText)
			textArea.SetText("", true)
			textView.ScrollToEnd()
			go sendMessage(msgText)
			return nil
		}
		return event
	})
}

func sendMessage(msgText string) {
	app.QueueUpdateDraw(updateStatusLine)
	if _, err := bot.ChatRound(ctx, &models.ChatRoundReq{UserMsg: msgText}); err != nil {
		notify("chat", err)
		app.QueueUpdateDraw(refreshChatDisplay)
	}
	app.QueueUpdateDraw(updateStatusLine)
}

func toggleRecording() {
	if !bot.recorder.IsRecording() {
		if err := bot.StartRecording(); err != nil {
			if errors.Is(err, audio.ErrPermissionDenied) {
				logger.Warn("microphone permission denied")
			}
			notify("recording", err)
		}
		updateStatusLine()
		return
	}
	go func() {
		transcript, _, err := bot.StopRecording(ctx)
		if err != nil {
			notify("recording", err)
		}
		if transcript != "" {
			logger.Debug("voice turn", "transcript", transcript)
		}
		app.QueueUpdateDraw(updateStatusLine)
	}()
}

// watchStatus mirrors avatar status messages and queue state into the status line.
func watchStatus() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-bot.avatar.Status():
			logger.Debug("avatar status", "msg", msg)
			app.QueueUpdateDraw(updateStatusLine)
		case <-ticker.C:
			app.QueueUpdateDraw(updateStatusLine)
		}
	}
}
