// Package pages 聚合可被缓存层包裹的页面生成器，并提供统一的注册入口。
//
// 页面作者需要：
//   1. 在 internal/pages/<name>/ 目录下实现 RenderFunc；
//   2. 通过本包暴露的 Register/MustRegister 在 init() 中注册页面元数据；
//   3. 只通过 RenderContext 访问请求信息，不读取进程级全局状态。
//
// 配置中的 [[Page]] 通过 Page 字段引用这里注册的键。
package pages
