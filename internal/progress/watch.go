package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// Watch follows the feed at url, calling fn for every update, until the
// operation reaches a terminal status. It returns the terminal update; an
// error status is reported as ErrOperationFailed.
func Watch(ctx context.Context, url string, fn func(Update)) (Update, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return Update{}, fmt.Errorf("dial feed: %w", err)
	}
	defer conn.CloseNow()

	var last Update
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return last, ErrFeedClosed
			}
			return last, fmt.Errorf("read feed: %w", err)
		}

		var u Update
		if err := json.Unmarshal(data, &u); err != nil {
			return last, fmt.Errorf("decode update: %w", err)
		}
		last = u
		if fn != nil {
			fn(u)
		}
		if !u.Terminal() {
			continue
		}

		conn.Close(websocket.StatusNormalClosure, "")
		if u.Status == StatusError {
			return u, fmt.Errorf("%w: %s", ErrOperationFailed, u.Message)
		}
		return u, nil
	}
}
