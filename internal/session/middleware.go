package session

import (
	"time"

	"github.com/gofiber/fiber/v3"
)

// CookieName 是保存会话 ID 的 cookie 名。
const CookieName = "sid"

const contextKeyState = "_pagecache_session"

// Middleware 为每个请求注入 *State；下游处理结束后，若会话已启动则写回 cookie、
// 保存数据，并按限制器补齐响应中尚未出现、也未被缓存层接管的缓存头。
func Middleware(store *Store) fiber.Handler {
	return func(c fiber.Ctx) error {
		state := store.load(c.Cookies(CookieName))
		c.Locals(contextKeyState, state)

		err := c.Next()

		if !state.Active() {
			return err
		}
		store.save(state)
		c.Cookie(&fiber.Cookie{
			Name:     CookieName,
			Value:    state.ID(),
			Path:     "/",
			HTTPOnly: true,
		})
		for key, value := range state.Headers(time.Now()) {
			// 缓存层已写出的头以缓存条目的时间为准，会话层只补缺。
			if len(c.Response().Header.Peek(key)) > 0 {
				continue
			}
			c.Set(key, value)
		}
		return err
	}
}

// FromContext 返回 Middleware 注入的会话状态，未挂载中间件时返回 nil。
func FromContext(c fiber.Ctx) *State {
	if value := c.Locals(contextKeyState); value != nil {
		if state, ok := value.(*State); ok {
			return state
		}
	}
	return nil
}
