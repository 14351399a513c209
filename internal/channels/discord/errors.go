package discord

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/gridzer0/threadbot/internal/platform"
)

// classify wraps a discordgo error with its platform kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return platform.Wrap(op, kindOf(err), err)
}

func kindOf(err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Message != nil {
			switch rest.Message.Code {
			case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
				return platform.ErrPermissionDenied
			case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
				return platform.ErrNotFound
			}
		}
		if rest.Response == nil {
			return nil
		}
		switch status := rest.Response.StatusCode; {
		case status == http.StatusForbidden:
			return platform.ErrPermissionDenied
		case status == http.StatusNotFound:
			return platform.ErrNotFound
		case status == http.StatusTooManyRequests, status >= 500:
			return platform.ErrTransient
		}
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return platform.ErrTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return platform.ErrTransient
	}
	return nil
}
