package cache

import "time"

// TwoTier 兩層快取：General 給登入後的列表/儀表板，Public 給首頁公開資料。
// 兩層的時效視窗與容量各自獨立。
type TwoTier struct {
	General *FIFO
	Public  *FIFO
}

// Options 兩層快取設定
type Options struct {
	GeneralWindow   time.Duration
	GeneralCapacity int
	PublicWindow    time.Duration
	PublicCapacity  int
}

// NewTwoTier 建立兩層快取。
func NewTwoTier(opts Options) *TwoTier {
	return &TwoTier{
		General: NewFIFO(opts.GeneralWindow, opts.GeneralCapacity),
		Public:  NewFIFO(opts.PublicWindow, opts.PublicCapacity),
	}
}

// Invalidate 在兩層中刪除指定的 key。
func (t *TwoTier) Invalidate(keys ...string) {
	for _, key := range keys {
		t.General.Invalidate(key)
		t.Public.Invalidate(key)
	}
}

// Sweep 清除兩層中的過期項目，回傳總移除數。
func (t *TwoTier) Sweep() int {
	return t.General.Sweep() + t.Public.Sweep()
}

// Stats 返回兩層統計。
func (t *TwoTier) Stats() map[string]Stats {
	return map[string]Stats{
		"general": t.General.Stats(),
		"public":  t.Public.Stats(),
	}
}
