package middleware

import (
	gmw "github.com/Laisky/gin-middlewares/v7"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/gin-gonic/gin"

	"github.com/cheaprelay/cheaprelay/common/logger"
)

// Logger installs the structured request logger on the handler chain.
func Logger() gin.HandlerFunc {
	return gmw.NewLoggerMiddleware(
		gmw.WithLogger(&glog.LoggerT{Logger: logger.Logger.Named("gin")}),
	)
}
