package controller

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cheaprelay/cheaprelay/common"
	"github.com/cheaprelay/cheaprelay/common/render"
	"github.com/cheaprelay/cheaprelay/relay/activity"
)

const activityTick = 2 * time.Second

// StreamActivity serves GET /api/activity/stream: an SSE feed of
// {active, feed} snapshots until the client disconnects.
func (a *Admin) StreamActivity(c *gin.Context) {
	common.SetEventStreamHeaders(c)

	emit := func() bool {
		active, feed := a.Activity.Snapshot()
		// Marshal as [] rather than null for empty boards.
		if active == nil {
			active = []activity.Entry{}
		}
		if feed == nil {
			feed = []activity.Entry{}
		}
		err := render.ObjectData(c, gin.H{"active": active, "feed": feed})
		return err == nil
	}

	if !emit() {
		return
	}
	ticker := time.NewTicker(activityTick)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			if !emit() {
				return
			}
		}
	}
}
