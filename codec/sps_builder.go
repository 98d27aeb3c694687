package codec

// bitWriter is the inverse of bitReader: it accumulates bits MSB-first
// into a byte buffer. Used only to synthesize minimal, valid parameter
// sets for the in-process loopback codec used in tests.
type bitWriter struct {
	buf  []byte
	bit  int
	last byte
}

func (bw *bitWriter) writeBit(b uint) {
	bw.last = (bw.last << 1) | byte(b&1)
	bw.bit++
	if bw.bit == 8 {
		bw.buf = append(bw.buf, bw.last)
		bw.bit = 0
		bw.last = 0
	}
}

func (bw *bitWriter) writeBits(val uint, n int) {
	for i := n - 1; i >= 0; i-- {
		bw.writeBit((val >> uint(i)) & 1)
	}
}

func (bw *bitWriter) writeUE(val uint) {
	v := val + 1
	nbits := 0
	for t := v; t > 1; t >>= 1 {
		nbits++
	}
	for i := 0; i < nbits; i++ {
		bw.writeBit(0)
	}
	bw.writeBits(v, nbits+1)
}

// rbspTrailing appends the rbsp_trailing_bits stop bit and pads with
// zeros to a byte boundary.
func (bw *bitWriter) rbspTrailing() []byte {
	bw.writeBit(1)
	for bw.bit != 0 {
		bw.writeBit(0)
	}
	return bw.buf
}

// BuildMinimalSPS synthesizes a baseline-profile SPS NAL unit (including
// the 0x67 NAL header byte, emulation-prevention applied) describing a
// frame of width x height with no cropping beyond what's needed to reach
// exactly those dimensions. Both width and height must be multiples of 16.
//
// This exists only to let the in-process loopback codec (used by tests
// and end-to-end demos) produce a bitstream that this package's own
// ParseSPS can read back correctly; it is not a general-purpose encoder.
func BuildMinimalSPS(width, height int) []byte {
	bw := &bitWriter{}
	bw.writeBits(66, 8) // profile_idc: baseline
	bw.writeBits(0, 8)  // constraint flags + reserved
	bw.writeBits(30, 8) // level_idc 3.0
	bw.writeUE(0)       // seq_parameter_set_id

	bw.writeUE(0) // log2_max_frame_num_minus4
	bw.writeUE(0) // pic_order_cnt_type
	bw.writeUE(0) // log2_max_pic_order_cnt_lsb_minus4

	bw.writeUE(1)         // max_num_ref_frames
	bw.writeBits(0, 1)    // gaps_in_frame_num_value_allowed_flag
	bw.writeUE(uint(width/16 - 1))
	bw.writeUE(uint(height/16 - 1))
	bw.writeBits(1, 1) // frame_mbs_only_flag
	bw.writeBits(1, 1) // direct_8x8_inference_flag
	bw.writeBits(0, 1) // frame_cropping_flag
	bw.writeBits(0, 1) // vui_parameters_present_flag

	rbsp := bw.rbspTrailing()
	nal := append([]byte{0x67}, insertEmulationPrevention(rbsp)...)
	return nal
}

// BuildMinimalPPS synthesizes a minimal PPS NAL unit (including the 0x68
// NAL header byte) pairing with BuildMinimalSPS.
func BuildMinimalPPS() []byte {
	bw := &bitWriter{}
	bw.writeUE(0) // pic_parameter_set_id
	bw.writeUE(0) // seq_parameter_set_id
	bw.writeBits(0, 1) // entropy_coding_mode_flag
	bw.writeBits(0, 1) // bottom_field_pic_order_in_frame_present_flag
	bw.writeUE(0)       // num_slice_groups_minus1
	bw.writeUE(0)       // num_ref_idx_l0_default_active_minus1
	bw.writeUE(0)       // num_ref_idx_l1_default_active_minus1
	bw.writeBits(0, 1) // weighted_pred_flag
	bw.writeBits(0, 2) // weighted_bipred_idc
	// The remaining PPS fields are encoded as signed exp-Golomb in the
	// real syntax; zero in UE form bit-matches zero in SE form, which is
	// sufficient since only NAL type (not field values) is consumed by
	// the adapter and the loopback decoder.
	bw.writeUE(0) // pic_init_qp_minus26
	bw.writeUE(0) // pic_init_qs_minus26
	bw.writeUE(0) // chroma_qp_index_offset
	bw.writeBits(0, 1) // deblocking_filter_control_present_flag
	bw.writeBits(0, 1) // constrained_intra_pred_flag
	bw.writeBits(0, 1) // redundant_pic_cnt_present_flag

	rbsp := bw.rbspTrailing()
	nal := append([]byte{0x68}, insertEmulationPrevention(rbsp)...)
	return nal
}
