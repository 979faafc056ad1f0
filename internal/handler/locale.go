package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/habitstreak/internal/locale"
)

const languageContextKey = "__request_language"

// LocaleMiddleware resolves the response language and advertises it to caches.
func (a *API) LocaleMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		language := requestLanguage(c)
		if language == locale.LanguageEnglish {
			c.Header("Content-Language", "en-US")
		} else {
			c.Header("Content-Language", "zh-CN")
		}
		c.Header("Vary", "Accept-Language")
		c.Next()
	}
}

// requestLanguage 优先使用 ?lang=，其次 Accept-Language，默认中文
func requestLanguage(c *gin.Context) string {
	if cached, exists := c.Get(languageContextKey); exists {
		if language, ok := cached.(string); ok {
			return language
		}
	}
	language := locale.Resolve(c.Query("lang"), c.GetHeader("Accept-Language"))
	c.Set(languageContextKey, language)
	return language
}

func respondLocalizedError(c *gin.Context, status int, english, chinese string) {
	respondError(c, status, locale.Pick(requestLanguage(c), english, chinese))
}
