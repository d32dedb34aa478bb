// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 fingerprint 将 LLM 请求规范化为确定性指纹，作为缓存键与
在途去重键使用。

# 规范化规则

  - 缺省字段先补齐默认值（model=default、temperature=0.7、max_tokens=4000），
    省略字段与显式默认值得到相同指纹。
  - Prompt 与每条消息内容去除首尾空白，多轮消息保留角色与顺序。
  - params 中的对象键逐层排序，字段书写顺序不影响结果。
  - 规范化 JSON 经 SHA-256 摘要，输出形如 "llm:fp:<64 位十六进制>"。

指纹不含随机数与时间戳，进程重启后同一逻辑请求得到相同指纹。

# 使用方式

	fp := fingerprint.New(fingerprint.DefaultDefaults())
	key, err := fp.Fingerprint(req)
	group := fp.GroupKey(req)
*/
package fingerprint
