package lock

import (
	"context"
	"sort"
)

// Locker 按账户加互斥锁
//
// 【死锁预防】一次请求需要多把锁时（转账），统一按账户ID从小到大加锁：
//
//	goroutine1: A(1) -> B(2) 转账，先锁 1 再锁 2
//	goroutine2: B(2) -> A(1) 转账，同样先锁 1 再锁 2
//
// 两者争抢同一把"第一把锁"，不会出现各持一把互相等待的情况。
type Locker interface {
	// Lock 获取 ids 对应的全部账户锁，返回的 unlock 按相反顺序释放。
	// 获取失败时已经拿到的锁会被释放。
	Lock(ctx context.Context, ids ...int64) (unlock func(), err error)
}

// orderedIDs 去重并升序排列
func orderedIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func releaseAll(unlocks []func()) func() {
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
