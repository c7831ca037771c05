package push

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// InstanceGroupID 为当前进程生成独立的消费组 ID。
// 每个网关节点都要消费全量事件流（只推给连在自己身上的用户），
// 所以绝不能让多个节点共享一个组——那会把分区摊开，
// 各节点只看到一部分事件。uuid 后缀保证同机多进程也不冲突。
func InstanceGroupID(base string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return fmt.Sprintf("%s-%s-%s", base, host, uuid.NewString()[:8])
}
