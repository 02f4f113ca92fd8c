package slackbot

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"ticketlens/internal/config"
	"ticketlens/internal/httpx"
)

// maxMessageChars keeps posted summaries under Slack's text limit; the full
// report travels as a file.
const maxMessageChars = 3500

// Publisher posts analysis results to the report channel. A Publisher built
// without a bot token or channel is a no-op.
type Publisher struct {
	api       *slack.Client
	channelID string
}

func NewPublisher(cfg config.Config, opts ...slack.Option) *Publisher {
	if !cfg.SlackConfigured() {
		log.Println("Slack publishing disabled (slack_bot_token or report_channel_id not set)")
		return &Publisher{}
	}
	opts = append([]slack.Option{slack.OptionHTTPClient(httpx.ExternalHTTPClient())}, opts...)
	return &Publisher{
		api:       slack.New(cfg.SlackBotToken, opts...),
		channelID: cfg.ReportChannelID,
	}
}

func (p *Publisher) Enabled() bool {
	return p != nil && p.api != nil
}

// PostText posts text to the report channel, truncated to maxMessageChars.
func (p *Publisher) PostText(ctx context.Context, text string) error {
	if !p.Enabled() {
		return nil
	}
	_, _, err := p.api.PostMessageContext(ctx, p.channelID, slack.MsgOptionText(truncate(text, maxMessageChars), false))
	if err != nil {
		return fmt.Errorf("post to %s: %w", p.channelID, err)
	}
	return nil
}

// UploadReport attaches a written report file to the channel.
func (p *Publisher) UploadReport(ctx context.Context, path, title, comment string) error {
	if !p.Enabled() {
		return nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat report: %w", err)
	}
	if fi.Size() <= 0 {
		return fmt.Errorf("report file is empty: %s", path)
	}
	_, err = p.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		File:           path,
		FileSize:       int(fi.Size()),
		Filename:       filepath.Base(path),
		Channel:        p.channelID,
		Title:          title,
		InitialComment: comment,
	})
	if err != nil {
		return fmt.Errorf("upload report to %s: %w", p.channelID, err)
	}
	log.Printf("slack report uploaded channel=%s file=%s", p.channelID, filepath.Base(path))
	return nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "\n...(truncated)"
}
