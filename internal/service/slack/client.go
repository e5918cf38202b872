package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/models"
	"github.com/ifuryst/reelwave/internal/service/approval"
)

const (
	ActionApprove = "approve"
	ActionReject  = "reject"

	// ItemsPerMessage keeps a review message under the 50 block limit:
	// one header plus two blocks per item
	ItemsPerMessage = 24
)

// ErrItemNotInMessage is returned when the review message no longer carries
// the buttons of the decided item
var ErrItemNotInMessage = errors.New("review message has no actions for item")

// Client posts review traffic to a Slack channel through the Web API
type Client struct {
	cfg    *config.SlackConfig
	api    *slack.Client
	logger *zap.Logger
}

func NewClient(cfg *config.SlackConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		api: slack.New(cfg.BotToken,
			slack.OptionAPIURL(strings.TrimRight(cfg.BaseURL, "/")+"/"),
			slack.OptionHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		),
		logger: logger.With(zap.String("component", "slack")),
	}
}

var _ approval.Notifier = (*Client)(nil)

func (c *Client) post(ctx context.Context, channel string, options ...slack.MsgOption) (*approval.MessageRef, error) {
	if channel == "" {
		channel = c.cfg.ChannelID
	}
	respChannel, ts, err := c.api.PostMessageContext(ctx, channel, options...)
	if err != nil {
		return nil, fmt.Errorf("slack chat.postMessage failed: %w", err)
	}
	return &approval.MessageRef{ChannelID: respChannel, TS: ts}, nil
}

func (c *Client) SendNotice(ctx context.Context, msg string) (*approval.MessageRef, error) {
	return c.post(ctx, "", slack.MsgOptionText(msg, false))
}

func markdown(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, s, false, false)
}

func plainText(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, s, false, false)
}

func itemBlockID(number int) string {
	return fmt.Sprintf("item_%d", number)
}

func itemBlocks(batchID string, item approval.ReviewItem) []slack.Block {
	line := fmt.Sprintf("*%d. %s*", item.Number, item.Title)
	if item.FootageName != "" {
		line += fmt.Sprintf(" on %s", item.FootageName)
	}
	if item.Link != "" {
		line += fmt.Sprintf("\n<%s|%s>", item.Link, item.FileName)
	} else {
		line += "\n" + item.FileName
	}

	value := EncodeActionValue(batchID, item.Number, item.FileID)
	approve := slack.NewButtonBlockElement(ActionApprove, value, plainText("Approve")).WithStyle(slack.StylePrimary)
	reject := slack.NewButtonBlockElement(ActionReject, value, plainText("Reject")).WithStyle(slack.StyleDanger)
	return []slack.Block{
		slack.NewSectionBlock(markdown(line), nil, nil),
		slack.NewActionBlock(itemBlockID(item.Number), approve, reject),
	}
}

// SendApprovalRequest posts a section and approve/reject buttons per item.
// The first ItemsPerMessage items go with the header; the rest follow as
// replies in its thread, ItemsPerMessage at a time. With req.Thread set every
// item goes into that thread. A failure after the header is out returns an
// *approval.PartialSendError saying how many items were posted.
func (c *Client) SendApprovalRequest(ctx context.Context, req approval.ApprovalMessage) (*approval.MessageRef, error) {
	header := fmt.Sprintf("*Review batch %s* (%d videos)", req.BatchID, len(req.Items))
	if req.FolderURL != "" {
		header += fmt.Sprintf("\n<%s|Open folder>", req.FolderURL)
	}
	fallback := fmt.Sprintf("Review batch %s", req.BatchID)

	ref := req.Thread
	for start := 0; start < len(req.Items) || (ref == nil && start == 0); start += ItemsPerMessage {
		end := min(start+ItemsPerMessage, len(req.Items))
		var blocks []slack.Block
		if ref == nil {
			blocks = append(blocks, slack.NewSectionBlock(markdown(header), nil, nil))
		}
		for _, item := range req.Items[start:end] {
			blocks = append(blocks, itemBlocks(req.BatchID, item)...)
		}

		options := []slack.MsgOption{slack.MsgOptionText(fallback, false), slack.MsgOptionBlocks(blocks...)}
		if ref == nil {
			posted, err := c.post(ctx, "", options...)
			if err != nil {
				return nil, err
			}
			ref = posted
			continue
		}
		if _, err := c.post(ctx, ref.ChannelID, append(options, slack.MsgOptionTS(ref.TS))...); err != nil {
			return nil, &approval.PartialSendError{
				Ref:    *ref,
				Posted: start,
				Err:    fmt.Errorf("failed to post items %d-%d: %w", start+1, end, err),
			}
		}
	}

	c.logger.Info("Approval request posted",
		zap.String("batch_id", req.BatchID),
		zap.String("ts", ref.TS),
		zap.Int("items", len(req.Items)),
		zap.Bool("threaded", req.Thread != nil))
	return ref, nil
}

func verdictText(decision models.ApprovalDecision) string {
	verdict := fmt.Sprintf("Item %d rejected :x:", decision.ItemNumber)
	if decision.Approved {
		verdict = fmt.Sprintf("Item %d approved :white_check_mark:", decision.ItemNumber)
	}
	if decision.ReviewerID != "" {
		verdict += fmt.Sprintf(" by <@%s>", decision.ReviewerID)
	}
	return verdict
}

// UpdateDecision rewrites the review message at ref, swapping the decided
// item's buttons for the verdict
func (c *Client) UpdateDecision(ctx context.Context, ref approval.MessageRef, decision models.ApprovalDecision) error {
	msg, err := c.fetchMessage(ctx, ref)
	if err != nil {
		return err
	}

	blocks, replaced := replaceItemActions(msg.Blocks.BlockSet, decision)
	if !replaced {
		return fmt.Errorf("%w %d", ErrItemNotInMessage, decision.ItemNumber)
	}

	_, _, _, err = c.api.UpdateMessageContext(ctx, ref.ChannelID, ref.TS,
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("slack chat.update failed: %w", err)
	}
	return nil
}

// fetchMessage loads one message by timestamp, whether it is a thread parent
// or a reply
func (c *Client) fetchMessage(ctx context.Context, ref approval.MessageRef) (*slack.Message, error) {
	msgs, _, _, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: ref.ChannelID,
		Timestamp: ref.TS,
		Latest:    ref.TS,
		Oldest:    ref.TS,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("slack conversations.replies failed: %w", err)
	}
	for i := range msgs {
		if msgs[i].Timestamp == ref.TS {
			return &msgs[i], nil
		}
	}
	return nil, fmt.Errorf("review message %s not found in %s", ref.TS, ref.ChannelID)
}

func replaceItemActions(blocks []slack.Block, decision models.ApprovalDecision) ([]slack.Block, bool) {
	id := itemBlockID(decision.ItemNumber)
	out := make([]slack.Block, len(blocks))
	replaced := false
	for i, b := range blocks {
		out[i] = b
		if action, ok := b.(*slack.ActionBlock); ok && action.BlockID == id {
			out[i] = slack.NewContextBlock(id, markdown(verdictText(decision)))
			replaced = true
		}
	}
	return out, replaced
}

func (c *Client) SendCompletion(ctx context.Context, summary approval.CompletionSummary) error {
	msg := fmt.Sprintf("Review of batch %s complete: %d approved, %d rejected", summary.BatchID, summary.Approved, summary.Rejected)
	_, err := c.post(ctx, summary.Message.ChannelID, slack.MsgOptionText(msg, false), slack.MsgOptionTS(summary.Message.TS))
	return err
}

// EncodeActionValue packs the decision target into a button value
func EncodeActionValue(batchID string, item int, fileID string) string {
	return strings.Join([]string{batchID, strconv.Itoa(item), fileID}, "|")
}

// ParseInteraction turns a block_actions payload into a decision
func ParseInteraction(payload string) (approval.DecisionInput, error) {
	var cb slack.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &cb); err != nil {
		return approval.DecisionInput{}, fmt.Errorf("failed to parse interaction payload: %w", err)
	}
	if cb.Type != slack.InteractionTypeBlockActions {
		return approval.DecisionInput{}, fmt.Errorf("unsupported interaction %q", cb.Type)
	}
	if len(cb.ActionCallback.BlockActions) == 0 {
		return approval.DecisionInput{}, errors.New("no block actions in interaction payload")
	}

	action := cb.ActionCallback.BlockActions[0]
	if action.ActionID != ActionApprove && action.ActionID != ActionReject {
		return approval.DecisionInput{}, fmt.Errorf("unsupported action %q", action.ActionID)
	}
	parts := strings.SplitN(action.Value, "|", 3)
	if len(parts) != 3 {
		return approval.DecisionInput{}, fmt.Errorf("malformed action value %q", action.Value)
	}
	item, err := strconv.Atoi(parts[1])
	if err != nil {
		return approval.DecisionInput{}, fmt.Errorf("malformed item number %q: %w", parts[1], err)
	}

	channel := cb.Container.ChannelID
	if channel == "" {
		channel = cb.Channel.ID
	}
	return approval.DecisionInput{
		BatchName:  parts[0],
		ItemNumber: item,
		FileID:     parts[2],
		Approved:   action.ActionID == ActionApprove,
		ChannelID:  channel,
		MessageTS:  cb.Container.MessageTs,
		ReviewerID: cb.User.ID,
	}, nil
}

// VerifyRequest checks the signature Slack puts on interaction requests. The
// timestamp header must be within five minutes of now.
func VerifyRequest(header http.Header, body []byte, signingSecret string) error {
	if signingSecret == "" {
		return errors.New("slack signing secret is not configured")
	}
	verifier, err := slack.NewSecretsVerifier(header, signingSecret)
	if err != nil {
		return fmt.Errorf("invalid slack request: %w", err)
	}
	if _, err := verifier.Write(body); err != nil {
		return fmt.Errorf("failed to hash request body: %w", err)
	}
	if err := verifier.Ensure(); err != nil {
		return fmt.Errorf("invalid slack signature: %w", err)
	}
	return nil
}
