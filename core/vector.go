package core

// Vector 是定长浮点向量（用户偏好向量或内容特征向量）。
type Vector []float64

// Clone 返回向量副本，调用方可以自由修改。
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}
