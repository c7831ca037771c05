package zookeeper

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/mall/locks"

// ErrLockHeld 表示锁已被其它实例持有（仅 TryLock 返回）。
var ErrLockHeld = errors.New("lock is held by another instance")

// DistributedLock 基于临时顺序节点实现的分布式锁。
// 用于保证定时对账/扫描任务在整个集群里只有一个实例执行。
type DistributedLock struct {
	conn     *Conn
	path     string
	lockNode string
}

func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	if err := conn.EnsurePath("/mall"); err != nil {
		return nil, err
	}
	if err := conn.EnsurePath(lockRoot); err != nil {
		return nil, err
	}
	lockPath := lockRoot + "/" + resourceID
	if err := conn.EnsurePath(lockPath); err != nil {
		return nil, err
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

// Lock 阻塞直到获取锁（或超时）。经典的 "监听前一个节点" 算法，
// 避免惊群。
func (l *DistributedLock) Lock() error {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte{}, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath

	for {
		mine, prevNodePath, err := l.position()
		if err != nil {
			return err
		}
		if mine {
			return nil
		}

		_, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			if err == zk.ErrNoNode {
				continue // 前一个节点刚好被删除，重新竞争
			}
			return fmt.Errorf("failed to watch previous node: %w", err)
		}

		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(30 * time.Second):
			l.release()
			return errors.New("timeout waiting for lock")
		}
	}
}

// TryLock 非阻塞地尝试获取锁，拿不到返回 ErrLockHeld。
// 定时任务每个 tick 调一次，拿不到说明别的实例在干活，跳过即可。
func (l *DistributedLock) TryLock() error {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte{}, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath

	mine, _, err := l.position()
	if err != nil {
		l.release()
		return err
	}
	if !mine {
		l.release()
		return ErrLockHeld
	}
	return nil
}

// sequenceOf 取出顺序节点名末尾的序号。受保护节点名形如
// _c_<guid>-lock-0000000001，必须按序号比较——按整个字符串排
// 会被 guid 前缀带偏。解析不出序号的节点排到最后。
func sequenceOf(node string) int64 {
	idx := strings.LastIndex(node, "-")
	if idx < 0 || idx+1 >= len(node) {
		return math.MaxInt64
	}
	seq, err := strconv.ParseInt(node[idx+1:], 10, 64)
	if err != nil {
		return math.MaxInt64
	}
	return seq
}

// position 返回自己是否是序号最小的节点，以及排在自己前面的节点路径。
func (l *DistributedLock) position() (bool, string, error) {
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		return false, "", fmt.Errorf("failed to get children nodes: %w", err)
	}
	sort.Slice(children, func(i, j int) bool {
		return sequenceOf(children[i]) < sequenceOf(children[j])
	})

	myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
	if myNodeName == children[0] {
		return true, "", nil
	}
	for i, child := range children {
		if child == myNodeName {
			return false, l.path + "/" + children[i-1], nil
		}
	}
	return false, "", errors.New("own lock node not found among children")
}

// Unlock 释放锁。重复释放是无害的。
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return nil
	}
	return l.release()
}

func (l *DistributedLock) release() error {
	err := l.conn.Delete(l.lockNode, -1)
	l.lockNode = ""
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	return nil
}
