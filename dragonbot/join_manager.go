package dragonbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/slack-go/slack"
	"gorm.io/gorm/clause"
)

const (
	joinSetupCallbackID   = "join_manager_setup_modal"
	joinPickerCallbackID  = "join_channel_picker_modal"
	joinRequestCallbackID = "join_request_modal"

	joinApproveActionID = "join_request_approve"
	joinDenyActionID    = "join_request_deny"

	joinSetupChannelBlockID   = "managed_channel"
	joinSetupChannelActionID  = "managed_channel_select"
	joinSetupLogBlockID       = "log_channel"
	joinSetupLogActionID      = "log_channel_select"
	joinSetupQuestionsBlockID = "questions"
	joinSetupQuestionsAction  = "questions_input"

	joinPickerBlockID  = "channel_choice"
	joinPickerActionID = "channel_choice_select"
)

// JoinConfig describes one managed channel: joining it goes through a
// questionnaire reviewed in the log channel. Questions and the ban list
// are stored as JSON text so the same schema works on sqlite and postgres.
type JoinConfig struct {
	ChannelID  string `json:"channel_id" gorm:"primaryKey;type:string"`
	Enabled    bool   `json:"enabled" gorm:"not null"`
	LogChannel string `json:"log_channel"`
	Questions  string `json:"questions"`
	BanList    string `json:"ban_list"`

	ModelUnixTime
}

func (JoinConfig) TableName() string {
	return "join_configs"
}

// QuestionList decodes the stored questionnaire.
func (j JoinConfig) QuestionList() []string {
	var questions []string
	if j.Questions != "" {
		_ = json.Unmarshal([]byte(j.Questions), &questions)
	}
	return questions
}

// Banned reports whether the user is on the channel's ban list.
func (j JoinConfig) Banned(userID string) bool {
	var banned []string
	if j.BanList != "" {
		_ = json.Unmarshal([]byte(j.BanList), &banned)
	}
	for _, b := range banned {
		if b == userID {
			return true
		}
	}
	return false
}

// joinDecision is carried in the approve/deny button values.
type joinDecision struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}

// joinManagerSetupCommand handles /join-manager. Owner only.
func (d *DragonBot) joinManagerSetupCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	log := d.logger.With(
		slog.String("command", "/join-manager"),
		slog.String("user_id", cmd.UserID),
	)

	if cmd.UserID != d.config.Slack.OwnerUserID {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				":x: Only the bot owner can configure the join manager.",
			),
		)
		return
	}
	if d.db == nil {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				":x: The join manager needs a database and none is configured.",
			),
		)
		return
	}

	_, err := d.opener.OpenViewContext(ctx, cmd.TriggerID, joinSetupModal())
	if err != nil {
		log.ErrorContext(ctx, "error opening setup modal", tint.Err(err))
	}
}

func joinSetupModal() slack.ModalViewRequest {
	channelSelect := slack.NewOptionsSelectBlockElement(
		slack.OptTypeConversations,
		nil,
		joinSetupChannelActionID,
	)
	logSelect := slack.NewOptionsSelectBlockElement(
		slack.OptTypeConversations,
		nil,
		joinSetupLogActionID,
	)
	questionsInput := slack.NewPlainTextInputBlockElement(
		slack.NewTextBlockObject(
			slack.PlainTextType,
			"One question per line",
			false,
			false,
		),
		joinSetupQuestionsAction,
	)
	questionsInput.Multiline = true

	return slack.ModalViewRequest{
		Type:       slack.ViewType("modal"),
		CallbackID: joinSetupCallbackID,
		Title: slack.NewTextBlockObject(
			slack.PlainTextType, "Join Manager Setup", false, false,
		),
		Submit: slack.NewTextBlockObject(
			slack.PlainTextType, "Save", false, false,
		),
		Close: slack.NewTextBlockObject(
			slack.PlainTextType, "Cancel", false, false,
		),
		Blocks: slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewInputBlock(
					joinSetupChannelBlockID,
					slack.NewTextBlockObject(
						slack.PlainTextType, "Managed channel", false, false,
					),
					nil,
					channelSelect,
				),
				slack.NewInputBlock(
					joinSetupLogBlockID,
					slack.NewTextBlockObject(
						slack.PlainTextType,
						"Channel for join requests",
						false,
						false,
					),
					nil,
					logSelect,
				),
				slack.NewInputBlock(
					joinSetupQuestionsBlockID,
					slack.NewTextBlockObject(
						slack.PlainTextType, "Questions", false, false,
					),
					nil,
					questionsInput,
				),
			},
		},
	}
}

// handleJoinSetupSubmission saves or replaces a managed channel's config.
func (d *DragonBot) handleJoinSetupSubmission(
	ctx context.Context,
	callback slack.InteractionCallback,
) {
	log := d.logger.With(slog.String("modal", joinSetupCallbackID))

	values := callback.View.State.Values
	channelID := values[joinSetupChannelBlockID][joinSetupChannelActionID].SelectedConversation
	logChannel := values[joinSetupLogBlockID][joinSetupLogActionID].SelectedConversation
	questionsRaw := values[joinSetupQuestionsBlockID][joinSetupQuestionsAction].Value

	var questions []string
	for _, line := range strings.Split(questionsRaw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			questions = append(questions, line)
		}
	}
	questionsJSON, err := json.Marshal(questions)
	if err != nil {
		log.ErrorContext(ctx, "error encoding questions", tint.Err(err))
		return
	}

	config := JoinConfig{
		ChannelID:  channelID,
		Enabled:    true,
		LogChannel: logChannel,
		Questions:  string(questionsJSON),
		BanList:    "[]",
	}
	err = d.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "channel_id"}},
			DoUpdates: clause.AssignmentColumns(
				[]string{"enabled", "log_channel", "questions", "updated_at"},
			),
		},
	).Create(&config).Error
	if err != nil {
		log.ErrorContext(ctx, "error saving join config", tint.Err(err))
		return
	}

	log.InfoContext(
		ctx,
		"join manager configured",
		slog.String("channel_id", channelID),
		slog.String("log_channel", logChannel),
		slog.Int("questions", len(questions)),
	)
	logPostError(
		ctx, log, postText(
			ctx,
			d.poster,
			callback.User.ID,
			"",
			fmt.Sprintf(
				":white_check_mark: Join manager enabled for %s.",
				channelMention(channelID),
			),
		),
	)
}

// joinChannelCommand handles /joinadityaschannel, opening a picker over
// the managed channels.
func (d *DragonBot) joinChannelCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	log := d.logger.With(
		slog.String("command", "/joinadityaschannel"),
		slog.String("user_id", cmd.UserID),
	)

	if d.db == nil {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				":x: The join manager isn't available right now.",
			),
		)
		return
	}

	var configs []JoinConfig
	err := d.db.WithContext(ctx).Where("enabled = ?", true).Find(&configs).Error
	if err != nil {
		log.ErrorContext(ctx, "error loading join configs", tint.Err(err))
		return
	}
	if len(configs) == 0 {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				"No channels are accepting join requests right now.",
			),
		)
		return
	}

	_, err = d.opener.OpenViewContext(
		ctx,
		cmd.TriggerID,
		joinPickerModal(configs),
	)
	if err != nil {
		log.ErrorContext(ctx, "error opening picker modal", tint.Err(err))
	}
}

func joinPickerModal(configs []JoinConfig) slack.ModalViewRequest {
	options := make([]*slack.OptionBlockObject, 0, len(configs))
	for _, config := range configs {
		options = append(
			options,
			slack.NewOptionBlockObject(
				config.ChannelID,
				slack.NewTextBlockObject(
					slack.PlainTextType,
					channelMention(config.ChannelID),
					false,
					false,
				),
				nil,
			),
		)
	}
	picker := slack.NewOptionsSelectBlockElement(
		slack.OptTypeStatic,
		slack.NewTextBlockObject(
			slack.PlainTextType, "Pick a channel", false, false,
		),
		joinPickerActionID,
		options...,
	)

	return slack.ModalViewRequest{
		Type:       slack.ViewType("modal"),
		CallbackID: joinPickerCallbackID,
		Title: slack.NewTextBlockObject(
			slack.PlainTextType, "Join a Channel", false, false,
		),
		Submit: slack.NewTextBlockObject(
			slack.PlainTextType, "Next", false, false,
		),
		Close: slack.NewTextBlockObject(
			slack.PlainTextType, "Cancel", false, false,
		),
		Blocks: slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewInputBlock(
					joinPickerBlockID,
					slack.NewTextBlockObject(
						slack.PlainTextType, "Channel", false, false,
					),
					nil,
					picker,
				),
			},
		},
	}
}

// handleJoinPickerSubmission opens the selected channel's questionnaire.
// The submission's own trigger ID is still valid for a few seconds, which
// is enough to open the follow-up modal.
func (d *DragonBot) handleJoinPickerSubmission(
	ctx context.Context,
	callback slack.InteractionCallback,
) {
	log := d.logger.With(slog.String("modal", joinPickerCallbackID))

	selected := callback.View.State.Values[joinPickerBlockID][joinPickerActionID].SelectedOption.Value
	config, err := d.loadJoinConfig(ctx, selected)
	if err != nil {
		log.ErrorContext(ctx, "error loading join config", tint.Err(err))
		return
	}

	if config.Banned(callback.User.ID) {
		log.WarnContext(
			ctx,
			"banned user attempted join request",
			slog.String("user_id", callback.User.ID),
			slog.String("channel_id", selected),
		)
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				callback.User.ID,
				"",
				":x: You can't request to join that channel.",
			),
		)
		return
	}

	_, err = d.opener.OpenViewContext(
		ctx,
		callback.TriggerID,
		joinRequestModal(config),
	)
	if err != nil {
		log.ErrorContext(ctx, "error opening questionnaire", tint.Err(err))
	}
}

func (d *DragonBot) loadJoinConfig(
	ctx context.Context,
	channelID string,
) (JoinConfig, error) {
	var config JoinConfig
	err := d.db.WithContext(ctx).Where(
		"channel_id = ? AND enabled = ?",
		channelID,
		true,
	).First(&config).Error
	return config, err
}

// joinQuestionBlockID names the input block for the nth question.
func joinQuestionBlockID(n int) string {
	return fmt.Sprintf("question_%d", n)
}

func joinRequestModal(config JoinConfig) slack.ModalViewRequest {
	questions := config.QuestionList()
	blocks := make([]slack.Block, 0, len(questions))
	for i, question := range questions {
		input := slack.NewPlainTextInputBlockElement(nil, "answer")
		input.Multiline = true
		blocks = append(
			blocks,
			slack.NewInputBlock(
				joinQuestionBlockID(i),
				slack.NewTextBlockObject(
					slack.PlainTextType, question, false, false,
				),
				nil,
				input,
			),
		)
	}

	return slack.ModalViewRequest{
		Type:            slack.ViewType("modal"),
		CallbackID:      joinRequestCallbackID,
		PrivateMetadata: config.ChannelID,
		Title: slack.NewTextBlockObject(
			slack.PlainTextType, "Join Request", false, false,
		),
		Submit: slack.NewTextBlockObject(
			slack.PlainTextType, "Submit", false, false,
		),
		Close: slack.NewTextBlockObject(
			slack.PlainTextType, "Cancel", false, false,
		),
		Blocks: slack.Blocks{BlockSet: blocks},
	}
}

// handleJoinRequestSubmission posts the questionnaire answers to the log
// channel with approve/deny buttons.
func (d *DragonBot) handleJoinRequestSubmission(
	ctx context.Context,
	callback slack.InteractionCallback,
) {
	log := d.logger.With(slog.String("modal", joinRequestCallbackID))

	channelID := callback.View.PrivateMetadata
	config, err := d.loadJoinConfig(ctx, channelID)
	if err != nil {
		log.ErrorContext(ctx, "error loading join config", tint.Err(err))
		return
	}
	if config.Banned(callback.User.ID) {
		return
	}

	questions := config.QuestionList()
	var answers []string
	for i, question := range questions {
		answer := callback.View.State.Values[joinQuestionBlockID(i)]["answer"].Value
		answers = append(
			answers,
			fmt.Sprintf("*%s*\n%s", question, answer),
		)
	}

	decision, err := json.Marshal(
		joinDecision{
			UserID:    callback.User.ID,
			ChannelID: channelID,
		},
	)
	if err != nil {
		log.ErrorContext(ctx, "error encoding decision payload", tint.Err(err))
		return
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				slack.MarkdownType,
				fmt.Sprintf(
					":bell: %s wants to join %s\n\n%s",
					userMention(callback.User.ID),
					channelMention(channelID),
					strings.Join(answers, "\n\n"),
				),
				false,
				false,
			),
			nil,
			nil,
		),
		slack.NewActionBlock(
			"join_request_actions",
			slack.NewButtonBlockElement(
				joinApproveActionID,
				string(decision),
				slack.NewTextBlockObject(
					slack.PlainTextType, "Approve", false, false,
				),
			).WithStyle(slack.StylePrimary),
			slack.NewButtonBlockElement(
				joinDenyActionID,
				string(decision),
				slack.NewTextBlockObject(
					slack.PlainTextType, "Deny", false, false,
				),
			).WithStyle(slack.StyleDanger),
		),
	}

	target := config.LogChannel
	if target == "" {
		target = d.config.Slack.OwnerUserID
	}
	log.InfoContext(
		ctx,
		"join request submitted",
		slog.String("user_id", callback.User.ID),
		slog.String("channel_id", channelID),
	)
	logPostError(
		ctx, log, postBlocks(
			ctx,
			d.poster,
			target,
			fmt.Sprintf("Join request from %s", userMention(callback.User.ID)),
			blocks...,
		),
	)
}

// handleJoinDecision resolves an approve or deny click on a join request.
// The original request message is edited in place so the decision can't be
// acted on twice.
func (d *DragonBot) handleJoinDecision(
	ctx context.Context,
	callback slack.InteractionCallback,
	action *slack.BlockAction,
) {
	log := d.logger.With(
		slog.String("action_id", action.ActionID),
		slog.String("decided_by", callback.User.ID),
	)

	var decision joinDecision
	if err := json.Unmarshal([]byte(action.Value), &decision); err != nil {
		log.ErrorContext(ctx, "error decoding decision payload", tint.Err(err))
		return
	}

	var outcome string
	switch action.ActionID {
	case joinApproveActionID:
		_, err := d.inviter.InviteUsersToConversationContext(
			ctx,
			decision.ChannelID,
			decision.UserID,
		)
		if err != nil && !isAlreadyInChannel(err) {
			log.ErrorContext(ctx, "error inviting user", tint.Err(err))
			return
		}
		outcome = fmt.Sprintf(
			":white_check_mark: %s approved %s joining %s.",
			userMention(callback.User.ID),
			userMention(decision.UserID),
			channelMention(decision.ChannelID),
		)
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				decision.UserID,
				"",
				fmt.Sprintf(
					":tada: Your request to join %s was approved!",
					channelMention(decision.ChannelID),
				),
			),
		)
	case joinDenyActionID:
		outcome = fmt.Sprintf(
			":x: %s denied %s joining %s.",
			userMention(callback.User.ID),
			userMention(decision.UserID),
			channelMention(decision.ChannelID),
		)
	default:
		return
	}

	log.InfoContext(
		ctx,
		"join request resolved",
		slog.String("user_id", decision.UserID),
		slog.String("channel_id", decision.ChannelID),
	)
	_, _, _, err := d.updater.UpdateMessageContext(
		ctx,
		callback.Channel.ID,
		callback.Message.Timestamp,
		slack.MsgOptionText(outcome, false),
		slack.MsgOptionBlocks(
			slack.NewSectionBlock(
				slack.NewTextBlockObject(
					slack.MarkdownType, outcome, false, false,
				),
				nil,
				nil,
			),
		),
	)
	if err != nil {
		log.ErrorContext(ctx, "error updating request message", tint.Err(err))
	}
}

// isAlreadyInChannel detects the Slack error for inviting a user who is
// already a member, which counts as success here.
func isAlreadyInChannel(err error) bool {
	var slackErr slack.SlackErrorResponse
	if errors.As(err, &slackErr) {
		return slackErr.Err == "already_in_channel"
	}
	return strings.Contains(err.Error(), "already_in_channel")
}
