package utils

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrMissingArguments indicates that a required argument was not provided.
	ErrMissingArguments = errors.New("missing arguments")
	// ErrInvalidNumberFormat indicates that the number string is not in the correct format.
	ErrInvalidNumberFormat = errors.New("invalid number format")
	// ErrNotPositive indicates that a count must be greater than zero.
	ErrNotPositive = errors.New("number must be positive")
	// ErrInvalidCallback indicates that callback data does not carry a valid ID.
	ErrInvalidCallback = errors.New("invalid callback data")
)

// ReactArgs are the parsed arguments of the react command.
type ReactArgs struct {
	Count  int
	PostID int64
}

// ParseReactArgs parses "<count> [post_id]". PostID is zero when omitted.
func ParseReactArgs(args string) (ReactArgs, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return ReactArgs{}, ErrMissingArguments
	}

	count, err := strconv.Atoi(fields[0])
	if err != nil {
		return ReactArgs{}, ErrInvalidNumberFormat
	}
	if count <= 0 {
		return ReactArgs{}, ErrNotPositive
	}

	parsed := ReactArgs{Count: count}

	if len(fields) > 1 {
		postID, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return ReactArgs{}, ErrInvalidNumberFormat
		}
		if postID <= 0 {
			return ReactArgs{}, ErrNotPositive
		}
		parsed.PostID = postID
	}

	return parsed, nil
}

// GrantArgs are the parsed arguments of the subscription grant command.
type GrantArgs struct {
	UserID int64
	Days   int
}

// ParseGrantArgs parses "<user_id> [days]", using defaultDays when days is omitted.
func ParseGrantArgs(args string, defaultDays int) (GrantArgs, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return GrantArgs{}, ErrMissingArguments
	}

	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return GrantArgs{}, ErrInvalidNumberFormat
	}

	days := defaultDays
	if len(fields) > 1 {
		days, err = strconv.Atoi(fields[1])
		if err != nil {
			return GrantArgs{}, ErrInvalidNumberFormat
		}
	}

	if userID <= 0 || days <= 0 {
		return GrantArgs{}, ErrNotPositive
	}

	return GrantArgs{UserID: userID, Days: days}, nil
}

// ParseCallbackID extracts the trailing ID from callback data such as
// "toggle_channel_-100123". The prefix must match exactly.
func ParseCallbackID(data, prefix string) (int64, error) {
	raw, ok := strings.CutPrefix(data, prefix)
	if !ok || raw == "" {
		return 0, ErrInvalidCallback
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrInvalidCallback
	}

	return id, nil
}
