package dragonbot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lmittmann/tint"
	"github.com/slack-go/slack"
)

const (
	channelRequestCallbackID = "channel_request_modal"

	channelRequestNameBlockID    = "channel_name"
	channelRequestPurposeBlockID = "channel_purpose"
	channelRequestNameActionID   = "channel_name_input"
	channelRequestPurposeAction  = "channel_purpose_input"
)

// channelRequestModal builds the request form. The requesting user's ID
// rides along in private metadata so the submission handler doesn't have
// to trust the view's own user field.
func channelRequestModal(userID string) slack.ModalViewRequest {
	nameInput := slack.NewPlainTextInputBlockElement(
		slack.NewTextBlockObject(
			slack.PlainTextType,
			"e.g. gamedev",
			false,
			false,
		),
		channelRequestNameActionID,
	)
	purposeInput := slack.NewPlainTextInputBlockElement(
		slack.NewTextBlockObject(
			slack.PlainTextType,
			"What would this channel be for?",
			false,
			false,
		),
		channelRequestPurposeAction,
	)
	purposeInput.Multiline = true

	return slack.ModalViewRequest{
		Type:            slack.ViewType("modal"),
		CallbackID:      channelRequestCallbackID,
		PrivateMetadata: userID,
		Title: slack.NewTextBlockObject(
			slack.PlainTextType, "Request a Channel", false, false,
		),
		Submit: slack.NewTextBlockObject(
			slack.PlainTextType, "Submit", false, false,
		),
		Close: slack.NewTextBlockObject(
			slack.PlainTextType, "Cancel", false, false,
		),
		Blocks: slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewInputBlock(
					channelRequestNameBlockID,
					slack.NewTextBlockObject(
						slack.PlainTextType, "Channel name", false, false,
					),
					nil,
					nameInput,
				),
				slack.NewInputBlock(
					channelRequestPurposeBlockID,
					slack.NewTextBlockObject(
						slack.PlainTextType, "Purpose", false, false,
					),
					nil,
					purposeInput,
				),
			},
		},
	}
}

// channelRequestCommand handles /request-channel by opening the request
// modal.
func (d *DragonBot) channelRequestCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	log := d.logger.With(
		slog.String("command", "/request-channel"),
		slog.String("user_id", cmd.UserID),
	)

	if d.config.Slack.OwnerUserID == "" {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				":x: Channel requests aren't configured.",
			),
		)
		return
	}

	_, err := d.opener.OpenViewContext(
		ctx,
		cmd.TriggerID,
		channelRequestModal(cmd.UserID),
	)
	if err != nil {
		log.ErrorContext(ctx, "error opening modal", tint.Err(err))
	}
}

// handleChannelRequestSubmission forwards a submitted channel request to
// the bot owner as a direct message.
func (d *DragonBot) handleChannelRequestSubmission(
	ctx context.Context,
	callback slack.InteractionCallback,
) {
	log := d.logger.With(slog.String("modal", channelRequestCallbackID))

	values := callback.View.State.Values
	name := values[channelRequestNameBlockID][channelRequestNameActionID].Value
	purpose := values[channelRequestPurposeBlockID][channelRequestPurposeAction].Value

	requester := callback.View.PrivateMetadata
	if requester == "" {
		requester = callback.User.ID
	}

	log.InfoContext(
		ctx,
		"channel requested",
		slog.String("requester", requester),
		slog.String("channel_name", name),
	)
	logPostError(
		ctx, log, postText(
			ctx,
			d.poster,
			d.config.Slack.OwnerUserID,
			"",
			fmt.Sprintf(
				":bell: %s requested a new channel.\n*Name:* #%s\n*Purpose:* %s",
				userMention(requester),
				name,
				purpose,
			),
		),
	)
}
