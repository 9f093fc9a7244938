package sl

import (
	"fmt"
	"log/slog"
)

func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Secret keeps the first 5 characters of value and masks the rest,
// used to hide tokens and signatures in logs
func Secret(key, value string) slog.Attr {
	r := "***"
	if len(value) > 5 {
		r = fmt.Sprintf("%s***", value[0:5])
	}
	if value == "" {
		r = "?"
	}
	return slog.Attr{
		Key:   key,
		Value: slog.StringValue(r),
	}
}

func Module(mod string) slog.Attr {
	return slog.Attr{
		Key:   "mod",
		Value: slog.StringValue(mod),
	}
}

func User(id uint) slog.Attr {
	return slog.Attr{
		Key:   "user_id",
		Value: slog.Uint64Value(uint64(id)),
	}
}

func Order(id string) slog.Attr {
	return slog.Attr{
		Key:   "order_id",
		Value: slog.StringValue(id),
	}
}
